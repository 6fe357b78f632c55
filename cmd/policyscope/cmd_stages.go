package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/research"
)

func newStagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stages",
		Short: "List the research stages in execution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "#\tID\tNAME\tSECTIONS")
			for _, stage := range research.NewRegistry().Stages() {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", stage.Index, stage.ID, stage.Name, strings.Join(stage.Sections, ","))
			}
			return tw.Flush()
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema <stage>",
		Short: "Print the JSON schema of a stage, \"complete\" or \"news\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := research.NewRegistry().Schema(args[0])
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(llm.JSONSchema(schema), "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return err
		},
	}
}
