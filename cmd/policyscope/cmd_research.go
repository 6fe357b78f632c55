package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/musoukun/policyScope/internal/artifact"
	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/parties"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/research"
)

type researchFlags struct {
	mode        string
	concurrency int
	out         string
	fixtures    string
	grounding   bool
}

func newResearchCmd() *cobra.Command {
	flags := &researchFlags{}
	cmd := &cobra.Command{
		Use:   "research <party>...",
		Short: "Run the research pipeline for one or more parties",
		Long: "Each argument is a party id from the built-in catalog or a party name.\n" +
			"Runs are independent and execute concurrently.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, args, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.mode, "mode", "structured", "structured (five-stage report) or html (single-call document)")
	f.IntVar(&flags.concurrency, "concurrency", 2, "maximum runs in flight")
	f.StringVar(&flags.out, "out", "", "directory for <party>.json or <party>.html; stdout when empty")
	f.StringVar(&flags.fixtures, "fixtures", "", "replay backend responses from this directory")
	f.BoolVar(&flags.grounding, "grounding", true, "request search grounding where the backend supports it")
	return cmd
}

type researchTarget struct {
	id   string
	name string
}

func resolveTarget(arg string) researchTarget {
	arg = strings.TrimSpace(arg)
	if entry, ok := parties.Lookup(arg); ok {
		return researchTarget{id: entry.ID, name: entry.Name}
	}
	if entry, ok := parties.FindByName(arg); ok {
		return researchTarget{id: entry.ID, name: entry.Name}
	}
	return researchTarget{name: arg}
}

func (t researchTarget) fileName(ext string) string {
	base := t.id
	if base == "" {
		base = strings.NewReplacer("/", "_", " ", "_", string(filepath.Separator), "_").Replace(t.name)
	}
	return base + ext
}

func runResearch(cmd *cobra.Command, args []string, flags *researchFlags) error {
	mode := strings.ToLower(strings.TrimSpace(flags.mode))
	if mode != "structured" && mode != "html" {
		return fmt.Errorf("mode must be structured or html, got %q", flags.mode)
	}
	if flags.concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flags.fixtures != "" {
		cfg.LLMMode = "fixture"
		cfg.LLMFixtureDir = flags.fixtures
	}
	logger, err := newLogger(cfg.LogLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	catalog, err := prompts.Load(cfg.PromptsPath)
	if err != nil {
		return err
	}
	provider, err := newProvider(cfg.LLM())
	if err != nil {
		return fmt.Errorf("backend: %w", err)
	}
	if flags.out != "" {
		if err := os.MkdirAll(flags.out, 0o755); err != nil {
			return err
		}
	}

	writer := &outputWriter{dir: flags.out, stdout: cmd.OutOrStdout()}
	registry := research.NewRegistry()
	// A failed run must not cancel the others; every error is reported.
	ctx := cmd.Context()
	errs := make([]error, len(args))
	var group errgroup.Group
	group.SetLimit(flags.concurrency)
	for i, arg := range args {
		target := resolveTarget(arg)
		group.Go(func() error {
			runLogger := logger.With(zap.String("party", target.name), zap.String("mode", mode))
			if mode == "html" {
				errs[i] = researchHTML(ctx, catalog, provider, cfg.StageTimeout, flags.grounding, target, writer, runLogger)
			} else {
				errs[i] = researchStructured(ctx, registry, catalog, provider, cfg.StageTimeout, flags.grounding, target, writer, runLogger)
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(errs...)
}

func researchStructured(ctx context.Context, registry *research.Registry, catalog *prompts.Catalog, provider llm.Provider, timeout time.Duration, grounding bool, target researchTarget, writer *outputWriter, logger *zap.Logger) error {
	step := research.NewStep(registry, catalog, provider,
		research.WithStageTimeout(timeout),
		research.WithGrounding(grounding),
	)
	sequencer := research.NewSequencer(registry, research.WithObserver(func(t research.Transition) {
		switch t.State {
		case research.StateRunning:
			logger.Info("stage started", zap.Int("stage", t.Stage), zap.String("stage_id", t.StageID))
		case research.StateFailed:
			logger.Error("run failed", zap.Int("stage", t.Stage), zap.String("stage_id", t.StageID), zap.String("reason", t.Reason))
		case research.StateCancelled:
			logger.Info("run cancelled", zap.Int("completed_stages", t.Stage))
		case research.StateComplete:
			logger.Info("run complete")
		}
	}))
	outcome := sequencer.Run(research.NewLocalExecutor(ctx, step), target.name)
	switch outcome.State {
	case research.StateComplete:
		encoded, err := research.EncodeReport(outcome.Report)
		if err != nil {
			return err
		}
		return writer.write(target.fileName(".json"), encoded)
	case research.StateCancelled:
		return context.Canceled
	default:
		if outcome.FailedStage > 0 {
			return fmt.Errorf("%s: stage %d (%s) failed: %s", target.name, outcome.FailedStage, outcome.FailedStageID, outcome.Reason)
		}
		return fmt.Errorf("%s: %s", target.name, outcome.Reason)
	}
}

func researchHTML(ctx context.Context, catalog *prompts.Catalog, provider llm.Provider, timeout time.Duration, grounding bool, target researchTarget, writer *outputWriter, logger *zap.Logger) error {
	display := artifact.DisplayFunc(func(_ context.Context, _ string, doc artifact.Artifact) error {
		return writer.write(target.fileName(".html"), []byte(doc.HTML))
	})
	pipeline := artifact.NewPipeline(catalog, provider, display,
		artifact.WithTimeout(timeout),
		artifact.WithGrounding(grounding),
		artifact.WithToolCall(!grounding),
	)
	outcome := pipeline.Run(ctx, target.name)
	switch outcome.State {
	case research.StateComplete:
		logger.Info("artifact extracted", zap.String("source", string(outcome.Artifact.Source)), zap.Bool("fallback", outcome.Fallback), zap.String("title", outcome.Artifact.Title))
		return nil
	case research.StateCancelled:
		logger.Info("run cancelled")
		return context.Canceled
	default:
		return fmt.Errorf("%s: %s", target.name, outcome.Reason)
	}
}

// outputWriter serializes results from concurrent runs. With no directory
// every result goes to stdout, one after another.
type outputWriter struct {
	mu     sync.Mutex
	dir    string
	stdout io.Writer
}

func (w *outputWriter) write(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.dir == "" {
		if _, err := w.stdout.Write(data); err != nil {
			return err
		}
		_, err := io.WriteString(w.stdout, "\n")
		return err
	}
	return os.WriteFile(filepath.Join(w.dir, name), data, 0o644)
}
