package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/musoukun/policyScope/internal/config"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	loadConfig = func() (config.Config, error) {
		return config.Load(), nil
	}
	newLogger   = logging.New
	newProvider = llm.NewProvider
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "policyscope",
		Short: "Research Japanese political parties with a staged generative pipeline",
		Long: "policyscope runs the five-stage party research pipeline or the single-call\n" +
			"HTML report in-process, and inspects the stage contracts.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.AddCommand(newResearchCmd())
	root.AddCommand(newExtractCmd())
	root.AddCommand(newStagesCmd())
	root.AddCommand(newSchemaCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
