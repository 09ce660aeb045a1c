package cmd

import (
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// printResult writes a run or replay result: the session id to stderr and
// the value to stdout. A fatal result still prints what it has, then fails
// the command.
func printResult(cmd *cobra.Command, res *agent.Result) error {
	if res.NotFound {
		fmt.Fprintln(cmd.OutOrStdout(), res.Value())
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Session: %s\n", res.SessionID)
	if res.Truncated {
		fmt.Fprintf(cmd.ErrOrStderr(), "Iteration budget exhausted after %d steps; printing the final state.\n", res.Iterations)
	}

	if err := writeValue(cmd.OutOrStdout(), res.Value()); err != nil {
		return err
	}

	if res.Fatal {
		return fmt.Errorf("run ended on a fatal error: %w", res.Err)
	}
	return nil
}

// writeValue prints strings as-is and everything else as indented JSON.
func writeValue(w io.Writer, v any) error {
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// writeDocument encodes v in the requested format.
func writeDocument(w io.Writer, v any, format string) error {
	switch format {
	case "json":
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		// Go through JSON first so YAML keys match the json tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q, use json or yaml", format)
	}
}
