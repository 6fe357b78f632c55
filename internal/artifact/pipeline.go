package artifact

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/musoukun/policyScope/internal/llm"
	"github.com/musoukun/policyScope/internal/prompts"
	"github.com/musoukun/policyScope/internal/research"
)

// PromptKey is the catalog entry used for the single research call.
const PromptKey = "html-report"

// Display receives the extracted artifact. It stands in for the consuming UI.
type Display interface {
	Show(ctx context.Context, partyName string, artifact Artifact) error
}

type DisplayFunc func(ctx context.Context, partyName string, artifact Artifact) error

func (f DisplayFunc) Show(ctx context.Context, partyName string, artifact Artifact) error {
	return f(ctx, partyName, artifact)
}

// Outcome is the result of an artifact run. Fallback is set when the
// artifact is the diagnostic document; the run still counts as complete.
type Outcome struct {
	State    research.State
	Artifact Artifact
	Fallback bool
	Reason   string
	Err      error
}

// Tool declares the artifacts tool to the backend.
func Tool() llm.Tool {
	return llm.Tool{
		Name:        ToolName,
		Description: "政党情報をHTMLで視覚的に表現する。完全なHTMLドキュメントをフロントエンドに表示します。",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"code": {Type: genai.TypeString, Description: "完全なHTMLコード（DOCTYPE、html、head、bodyタグを含む）"},
			},
			Required: []string{"code"},
		},
	}
}

type Pipeline struct {
	prompts   *prompts.Catalog
	backend   llm.Provider
	display   Display
	timeout   time.Duration
	grounding bool
	useTool   bool
	toolSet   bool
	observers []func(Artifact)
}

type Option func(*Pipeline)

func WithTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

func WithGrounding(enabled bool) Option {
	return func(p *Pipeline) { p.grounding = enabled }
}

// WithToolCall controls whether the artifacts tool is declared to the
// backend. Search grounding is only honoured when it is not. Without this
// option the tool is declared only when grounding is off.
func WithToolCall(enabled bool) Option {
	return func(p *Pipeline) {
		p.useTool = enabled
		p.toolSet = true
	}
}

// WithExtractObserver is called with every extracted artifact, fallbacks
// included.
func WithExtractObserver(observer func(Artifact)) Option {
	return func(p *Pipeline) {
		if observer != nil {
			p.observers = append(p.observers, observer)
		}
	}
}

func NewPipeline(catalog *prompts.Catalog, backend llm.Provider, display Display, opts ...Option) *Pipeline {
	pipeline := &Pipeline{
		prompts: catalog,
		backend: backend,
		display: display,
		timeout: research.DefaultStageTimeout,
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	if !pipeline.toolSet {
		pipeline.useTool = !pipeline.grounding
	}
	return pipeline
}

// Research performs the single free-text research call.
func (p *Pipeline) Research(ctx context.Context, partyName string) (llm.Result, error) {
	rendered, err := p.prompts.Render(PromptKey, prompts.Data{Topic: partyName, PartyName: partyName})
	if err != nil {
		return llm.Result{}, err
	}
	req := llm.Request{
		Name:        PromptKey,
		System:      rendered.System,
		Instruction: rendered.Instruction,
		Grounding:   p.grounding,
	}
	if p.useTool {
		req.Tools = []llm.Tool{Tool()}
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	result, err := p.backend.Generate(callCtx, req)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return llm.Result{}, &research.BackendError{Stage: PromptKey, Timeout: timedOut, Message: err.Error(), Err: err}
	}
	return result, nil
}

// Run researches, extracts and hands the artifact to the display.
func (p *Pipeline) Run(ctx context.Context, partyName string) Outcome {
	partyName = strings.TrimSpace(partyName)
	if partyName == "" {
		return Outcome{State: research.StateFailed, Reason: research.ErrTopicRequired.Error(), Err: research.ErrTopicRequired}
	}
	result, err := p.Research(ctx, partyName)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return Outcome{State: research.StateCancelled}
		}
		return Outcome{State: research.StateFailed, Reason: err.Error(), Err: err}
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return Outcome{State: research.StateCancelled}
	}

	artifact, extractErr := Extract(result.Text, result.ToolCalls)
	for _, observer := range p.observers {
		observer(artifact)
	}
	outcome := Outcome{State: research.StateComplete, Artifact: artifact}
	var failure *ExtractionFailure
	if errors.As(extractErr, &failure) {
		outcome.Fallback = true
		outcome.Reason = failure.Error()
	}
	if p.display != nil {
		if err := p.display.Show(ctx, partyName, artifact); err != nil {
			return Outcome{State: research.StateFailed, Reason: err.Error(), Err: err}
		}
	}
	return outcome
}
