package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/observability"
)

// newSessionsCmd creates the `sessions` command group.
func newSessionsCmd(factory componentFactory) *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspects memorized sessions",
	}
	sessionsCmd.AddCommand(newSessionsListCmd(factory))
	sessionsCmd.AddCommand(newSessionsShowCmd(factory))
	return sessionsCmd
}

func newSessionsListCmd(factory componentFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists memorized sessions, oldest first",
		Args:  cobra.NoArgs,
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

			catalog, err := comps.Agent.Memory(ctx)
			if err != nil {
				return fmt.Errorf("failed to list sessions: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
}

func newSessionsShowCmd(factory componentFactory) *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Prints the full record of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			format, _ := cmd.Flags().GetString("output")

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

			record, err := comps.Store.Load(ctx, args[0])
			if errors.Is(err, schemas.ErrSessionNotFound) {
				return fmt.Errorf("session %s not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to load session: %w", err)
			}
			return writeDocument(cmd.OutOrStdout(), record, format)
		},
	}
	showCmd.Flags().StringP("output", "o", "json", "Output format: json or yaml.")
	return showCmd
}
