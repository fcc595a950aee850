// Package llm provides text generation for the negotiation agent: streamed
// conversational replies and schema constrained call summaries.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/internal/client"
)

// Conversation roles.
const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SummaryRequest asks for a completion constrained to Schema.
type SummaryRequest struct {
	Instructions string
	Input        string
	SchemaName   string
	Schema       json.RawMessage
}

// Generator is the client capability used by the Provider.
type Generator interface {
	StreamText(ctx context.Context, params *client.StreamTextParams, onDelta func(string)) error
	Summarize(ctx context.Context, params *client.SummarizeParams) (string, error)
}

// Verify interface compliance at compile time.
var _ Generator = (*client.Client)(nil)

// Provider generates replies and summaries.
type Provider struct {
	client         Generator
	model          string
	timeout        time.Duration
	summaryTimeout time.Duration
	logger         *zap.Logger
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	model          string
	timeout        time.Duration
	summaryTimeout time.Duration
	logger         *zap.Logger
}

// WithModel sets the text model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithTimeout bounds one full streamed reply.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithSummaryTimeout bounds one summarization round trip.
func WithSummaryTimeout(d time.Duration) Option {
	return func(o *options) {
		o.summaryTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a new LLM provider.
func New(c Generator, opts ...Option) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("llm: client is required")
	}

	cfg := &options{
		model:          "gpt-4o",
		timeout:        30 * time.Second,
		summaryTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return &Provider{
		client:         c,
		model:          cfg.model,
		timeout:        cfg.timeout,
		summaryTimeout: cfg.summaryTimeout,
		logger:         cfg.logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Model returns the configured text model.
func (p *Provider) Model() string {
	return p.model
}

// Respond streams a reply to history, calling onDelta for each fragment.
func (p *Provider) Respond(ctx context.Context, history []Message, onDelta func(string)) error {
	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]client.Message, len(history))
	for i, m := range history {
		messages[i] = client.Message{Role: m.Role, Content: m.Content}
	}

	start := time.Now()
	err := p.client.StreamText(ctx, &client.StreamTextParams{
		Model:    p.model,
		Messages: messages,
	}, onDelta)
	p.logger.Debug("response stream ended",
		zap.Int("history", len(history)),
		zap.Duration("took", time.Since(start)),
		zap.Error(err),
	)
	return err
}

// Summarize returns the raw JSON text of a schema constrained completion.
func (p *Provider) Summarize(ctx context.Context, req *SummaryRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("llm: summary request is required")
	}

	ctx, cancel := withTimeout(ctx, p.summaryTimeout)
	defer cancel()

	return p.client.Summarize(ctx, &client.SummarizeParams{
		Model:        p.model,
		Instructions: req.Instructions,
		Input:        req.Input,
		SchemaName:   req.SchemaName,
		Schema:       req.Schema,
	})
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
