package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot/internal/agent"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// newReplayCmd creates the `replay` command.
func newReplayCmd(factory componentFactory) *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Re-executes a memorized session without the reasoning provider",
		Args:  cobra.ExactArgs(1),
		Annotations: map[string]string{
			"wait":        "agent.replay_wait_between_actions",
			"screenshots": "agent.screenshot_each_step",
			"verbose":     "agent.verbose",
			"headless":    "browser.headless",
			"ws-endpoint": "browser.ws_endpoint",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			comps, err := factory(ctx, cfg, logger, false)
			if err != nil {
				comps.Shutdown(logger)
				return err
			}
			defer comps.Shutdown(logger)

			opts := agent.ReplayOptionsFromConfig(cfg.Agent)
			res := withMetricsEndpoint(ctx, comps.Metrics, cfg.Metrics, logger, func(ctx context.Context) *agent.Result {
				return comps.Agent.Replay(ctx, args[0], opts)
			})
			return printResult(cmd, res)
		},
	}

	replayCmd.Flags().Duration("wait", 0, "Pause between replayed actions. (Default 1s from config)")
	replayCmd.Flags().Bool("screenshots", false, "Capture a screenshot after every step.")
	replayCmd.Flags().BoolP("verbose", "v", false, "Log each replayed step at info level.")
	replayCmd.Flags().Bool("headless", false, "Run the browser without a window.")
	replayCmd.Flags().String("ws-endpoint", "", "Attach to a running browser at this DevTools websocket URL.")

	return replayCmd
}
