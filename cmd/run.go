package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(factory componentFactory) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Runs a task in a fresh browser session",
		Long: `Runs a natural-language task. The reasoning provider picks one browser
action per step until it finishes the task or the iteration budget runs out.
The output is printed to stdout and the session id to stderr.`,
		Args: cobra.MinimumNArgs(1),
		Annotations: map[string]string{
			"max-iterations": "agent.max_iterations",
			"wait":           "agent.wait_between_actions",
			"memorize":       "agent.memorize",
			"screenshots":    "agent.screenshot_each_step",
			"verbose":        "agent.verbose",
			"schema":         "agent.output_schema_file",
			"provider":       "llm.provider",
			"model":          "llm.model",
			"headless":       "browser.headless",
			"ws-endpoint":    "browser.ws_endpoint",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			task := strings.Join(args, " ")
			opts := agent.OptionsFromConfig(cfg.Agent)
			if cfg.Agent.OutputSchemaFile != "" {
				schema, err := loadOutputSchema(cfg.Agent.OutputSchemaFile)
				if err != nil {
					return err
				}
				opts.OutputSchema = schema
			}

			comps, err := factory(ctx, cfg, logger, true)
			if err != nil {
				comps.Shutdown(logger)
				return err
			}
			defer comps.Shutdown(logger)

			res := withMetricsEndpoint(ctx, comps.Metrics, cfg.Metrics, logger, func(ctx context.Context) *agent.Result {
				return comps.Agent.Run(ctx, task, opts)
			})
			return printResult(cmd, res)
		},
	}

	runCmd.Flags().Int("max-iterations", 0, "Iteration budget for the run. (Overrides config/env)")
	runCmd.Flags().Duration("wait", 0, "Pause between actions, e.g. 2s. (Overrides config/env)")
	runCmd.Flags().Bool("memorize", false, "Persist every step so the session can be replayed.")
	runCmd.Flags().Bool("screenshots", false, "Capture a screenshot after every step.")
	runCmd.Flags().BoolP("verbose", "v", false, "Log each step's thought, action, and outcome at info level.")
	runCmd.Flags().String("schema", "", "JSON Schema file that extracted records must satisfy.")
	runCmd.Flags().String("provider", "", "Reasoning provider: gemini or groq. (Overrides config/env)")
	runCmd.Flags().String("model", "", "Model name for the reasoning provider. (Overrides config/env)")
	runCmd.Flags().Bool("headless", false, "Run the browser without a window.")
	runCmd.Flags().String("ws-endpoint", "", "Attach to a running browser at this DevTools websocket URL.")

	return runCmd
}

// loadOutputSchema reads the scraper output schema and checks it is JSON.
func loadOutputSchema(path string) ([]byte, error) {
	raw, err := os.ReadFile(config.ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read output schema: %w", err)
	}
	if !jsoniter.Valid(raw) {
		return nil, fmt.Errorf("output schema %s is not valid JSON", path)
	}
	return raw, nil
}

// withMetricsEndpoint runs fn while the metrics endpoint is served, when
// metrics are enabled. The endpoint stops as soon as fn returns.
func withMetricsEndpoint(ctx context.Context, metrics *observability.Metrics, cfg config.MetricsConfig, logger *zap.Logger, fn func(context.Context) *agent.Result) *agent.Result {
	if metrics == nil {
		return fn(ctx)
	}

	serveCtx, stop := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error {
		return metrics.Serve(gctx, cfg.ListenAddr, logger)
	})

	res := fn(ctx)
	stop()
	if err := g.Wait(); err != nil {
		logger.Warn("Metrics endpoint failed", zap.String("addr", cfg.ListenAddr), zap.Error(err))
	}
	return res
}
