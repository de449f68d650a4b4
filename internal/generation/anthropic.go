package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mcpforge/internal/forge"
)

const (
	DefaultModel                 = "claude-sonnet-4-5"
	DefaultMaxTokens             = 2048
	DefaultGenerateTemperature   = 0.0
	DefaultRegenerateTemperature = 0.1
)

// messageAPI is the subset of the Anthropic messages service used here.
type messageAPI interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

var _ messageAPI = (*anthropic.MessageService)(nil)

type completion struct {
	System      string
	Prompt      string
	Temperature float64
}

// LLMGenerator produces artifacts with an Anthropic model.
type LLMGenerator struct {
	messages   messageAPI
	model      string
	maxTokens  int64
	genTemp    float64
	regenTemp  float64
	prompts    Prompts
	log        *slog.Logger
	completeFn func(ctx context.Context, req completion) (string, error)
}

var _ forge.Generator = (*LLMGenerator)(nil)

type Option func(*LLMGenerator)

func WithModel(model string) Option {
	return func(g *LLMGenerator) {
		if strings.TrimSpace(model) != "" {
			g.model = model
		}
	}
}

func WithMaxTokens(n int) Option {
	return func(g *LLMGenerator) {
		if n > 0 {
			g.maxTokens = int64(n)
		}
	}
}

// WithTemperatures sets the sampling temperature for first generation and for
// corrections.
func WithTemperatures(generate, regenerate float64) Option {
	return func(g *LLMGenerator) {
		g.genTemp = generate
		g.regenTemp = regenerate
	}
}

func WithContainerPort(port uint16) Option {
	return func(g *LLMGenerator) { g.prompts.Port = port }
}

// NewAnthropic creates a generator backed by the Anthropic messages API.
func NewAnthropic(apiKey string, opts ...Option) (*LLMGenerator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return newLLMGenerator(&client.Messages, opts...), nil
}

func newLLMGenerator(api messageAPI, opts ...Option) *LLMGenerator {
	g := &LLMGenerator{
		messages:  api,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		genTemp:   DefaultGenerateTemperature,
		regenTemp: DefaultRegenerateTemperature,
		log:       slog.With("component", "generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.completeFn = g.complete
	return g
}

func (g *LLMGenerator) Generate(ctx context.Context, query string, docs []forge.Descriptor) (forge.Artifact, error) {
	prompt, err := g.prompts.Generate(query, docs)
	if err != nil {
		return forge.Artifact{}, err
	}
	return g.ask(ctx, prompt, g.genTemp)
}

func (g *LLMGenerator) Regenerate(ctx context.Context, query string, docs []forge.Descriptor, previous forge.Artifact, failures []forge.AttemptRecord) (forge.Artifact, error) {
	prompt, err := g.prompts.Regenerate(query, docs, previous, failures)
	if err != nil {
		return forge.Artifact{}, err
	}
	g.log.Debug("requesting correction", "failures", len(failures))
	return g.ask(ctx, prompt, g.regenTemp)
}

func (g *LLMGenerator) ask(ctx context.Context, prompt string, temperature float64) (forge.Artifact, error) {
	system, err := g.prompts.System()
	if err != nil {
		return forge.Artifact{}, err
	}
	text, err := g.completeFn(ctx, completion{System: system, Prompt: prompt, Temperature: temperature})
	if err != nil {
		return forge.Artifact{}, err
	}
	// A structurally invalid package is still an artifact: staging rejects it
	// as a build failure so the next regeneration sees why.
	return ExtractArtifact(text)
}

func (g *LLMGenerator) complete(ctx context.Context, req completion) (string, error) {
	msg, err := g.messages.New(ctx, g.messageParams(req))
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	text := messageText(msg)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("anthropic messages: empty response (stop reason %q)", msg.StopReason)
	}
	return text, nil
}

func (g *LLMGenerator) messageParams(req completion) anthropic.MessageNewParams {
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(g.model),
		MaxTokens:   g.maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
}

func messageText(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
