package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/musoukun/policyScope/internal/artifact"
	"github.com/musoukun/policyScope/internal/llm"
)

func newExtractCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Recover the HTML document from a saved backend response",
		Long: "The file is either raw response text or a JSON object with \"text\" and\n" +
			"\"tool_calls\" fields. The extraction tier is reported on stderr.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text, calls := decodeResponse(raw)
			doc, extractErr := artifact.Extract(text, calls)
			var failure *artifact.ExtractionFailure
			if extractErr != nil && !errors.As(extractErr, &failure) {
				return extractErr
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "source: %s\n", doc.Source)
			if doc.Title != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "title: %s\n", doc.Title)
			}
			if failure != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "fallback: %s\n", failure.Error())
			}
			if out != "" {
				return os.WriteFile(out, []byte(doc.HTML), 0o644)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), doc.HTML)
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the document to this file instead of stdout")
	return cmd
}

// decodeResponse accepts a recorded llm.Result as JSON and falls back to
// treating the file as raw text.
func decodeResponse(raw []byte) (string, []llm.ToolCall) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var result llm.Result
		if err := json.Unmarshal([]byte(trimmed), &result); err == nil && (result.Text != "" || len(result.ToolCalls) > 0) {
			return result.Text, result.ToolCalls
		}
	}
	return string(raw), nil
}
