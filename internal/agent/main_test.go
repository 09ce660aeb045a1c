package agent

import (
	"fmt"
	"os"
	"testing"

	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// TestMain initializes the global logger, runs the suite, and fails it if any
// goroutine outlives the tests.
func TestMain(m *testing.M) {
	logConfig := config.NewDefaultConfig().Logger
	logConfig.Level = "debug"
	logConfig.ServiceName = "test-suite"
	logConfig.Format = "console"
	observability.Initialize(logConfig, zapcore.Lock(os.Stdout))

	exitCode := m.Run()

	observability.Sync()
	observability.ResetForTest()

	if exitCode == 0 {
		if err := goleak.Find(); err != nil {
			fmt.Fprintf(os.Stderr, "goleak: %v\n", err)
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}
