package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("WritesPanicLog", func(t *testing.T) {
		var written []byte
		var path string
		exitCode := -1
		osWriteFile = func(name string, data []byte, perm os.FileMode) error {
			path, written = name, data
			return nil
		}
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, panicLogFile, path)
		require.NotEmpty(t, written)
		assert.Contains(t, string(written), "panic: boom")
		assert.Contains(t, string(written), "goroutine")
		assert.Equal(t, 2, exitCode)
	})

	t.Run("WriteFailureStillExits", func(t *testing.T) {
		exitCode := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(code int) { exitCode = code }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 2, exitCode)
	})

	t.Run("NoPanic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }

		func() {
			defer handlePanic()
		}()

		assert.False(t, called)
	})
}
