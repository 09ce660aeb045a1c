package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/webpilot/cmd"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

const panicLogFile = "panic.log"

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	// Interrupts cancel the run; the agent still tears the browser down and
	// prints whatever partial result it has.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(130)
			return
		}
		osExit(1)
	}
}

// handlePanic writes the stack of an unrecovered panic to panicLogFile and
// exits non-zero.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "webpilot crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
