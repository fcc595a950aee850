// Package negotiation runs the realtime debt negotiation agent of a call.
//
// A Session owns one call: it feeds inbound frames through voice activity
// detection, transcribes speech in serialized chunks, streams replies from
// the text model, synthesizes them sentence by sentence and plays them back
// until the caller barges in. When the call ends the transcript is
// summarized and delivered to a summary.Sink exactly once.
//
// Three FIFO chains order the asynchronous work of a session: transcription,
// response generation, and synthesis with playback. Frame ingestion never
// waits on any of them.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/llm"
	"github.com/agentplexus/voicebridge/summary"
	"github.com/agentplexus/voicebridge/tts"
	"github.com/agentplexus/voicebridge/vad"
)

// Transcriber turns a WAV chunk into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Responder streams a reply to the conversation so far.
type Responder interface {
	Respond(ctx context.Context, history []llm.Message, onDelta func(string)) error
}

// Synthesizer turns one text unit into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*tts.Synthesis, error)
}

// Summarizer produces the JSON summary of a finished call.
type Summarizer interface {
	Summarize(ctx context.Context, req *llm.SummaryRequest) (string, error)
}

// Output is the telephony leg of a session.
type Output interface {
	// Play sends 8kHz mu-law audio at real-time pace, stopping early once
	// current reports false.
	Play(ctx context.Context, mulaw []byte, current func() bool) error
	Close() error
}

// clearer is implemented by outputs that can drop audio already buffered on
// the far end.
type clearer interface {
	Clear() error
}

// Dependencies are the collaborators shared by every session.
type Dependencies struct {
	Transcriber Transcriber
	Responder   Responder
	Synthesizer Synthesizer
	Summarizer  Summarizer
	Sink        summary.Sink
}

// Agent creates sessions with shared configuration.
type Agent struct {
	deps     Dependencies
	detector *vad.Detector
	logger   *zap.Logger

	systemPrompt  string
	openingPrompt string
	chunkMinChars int
	drainTimeout  time.Duration
	sinkTimeout   time.Duration
	now           func() time.Time

	wg sync.WaitGroup
}

// Option configures the Agent.
type Option func(*options)

type options struct {
	vad           vad.Config
	systemPrompt  string
	openingPrompt string
	chunkMinChars int
	drainTimeout  time.Duration
	sinkTimeout   time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// WithVAD sets the voice activity thresholds.
func WithVAD(cfg vad.Config) Option {
	return func(o *options) {
		o.vad = cfg
	}
}

// WithSystemPrompt replaces the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) {
		o.systemPrompt = prompt
	}
}

// WithOpeningPrompt replaces the opening line.
func WithOpeningPrompt(prompt string) Option {
	return func(o *options) {
		o.openingPrompt = prompt
	}
}

// WithChunkMinChars sets the minimum buffered reply length before a
// sentence is released for synthesis.
func WithChunkMinChars(n int) Option {
	return func(o *options) {
		o.chunkMinChars = n
	}
}

// WithDrainTimeout bounds how long finalize waits for pending transcription
// and response work.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		o.drainTimeout = d
	}
}

// WithSinkTimeout bounds summary delivery.
func WithSinkTimeout(d time.Duration) Option {
	return func(o *options) {
		o.sinkTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// withClock overrides time.Now.
func withClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates an Agent.
func New(deps Dependencies, opts ...Option) (*Agent, error) {
	switch {
	case deps.Transcriber == nil:
		return nil, errors.New("negotiation: transcriber is required")
	case deps.Responder == nil:
		return nil, errors.New("negotiation: responder is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("negotiation: synthesizer is required")
	case deps.Summarizer == nil:
		return nil, errors.New("negotiation: summarizer is required")
	case deps.Sink == nil:
		return nil, errors.New("negotiation: summary sink is required")
	}

	cfg := &options{
		vad:           vad.DefaultConfig(),
		openingPrompt: DefaultOpeningPrompt,
		chunkMinChars: 120,
		drainTimeout:  45 * time.Second,
		sinkTimeout:   15 * time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.chunkMinChars <= 0 {
		return nil, fmt.Errorf("negotiation: chunk min chars must be positive, got %d", cfg.chunkMinChars)
	}

	return &Agent{
		deps:          deps,
		detector:      vad.New(cfg.vad),
		logger:        cfg.logger,
		systemPrompt:  SystemPrompt(cfg.systemPrompt),
		openingPrompt: cfg.openingPrompt,
		chunkMinChars: cfg.chunkMinChars,
		drainTimeout:  cfg.drainTimeout,
		sinkTimeout:   cfg.sinkTimeout,
		now:           cfg.now,
	}, nil
}

// NewSession creates the session of one call. The conversation history is
// seeded with the system prompt and the opening line; nothing is spoken
// until Start.
func (a *Agent) NewSession(callSid, streamSid string, out Output) *Session {
	a.wg.Add(1)
	return newSession(a, callSid, streamSid, out)
}

// Wait blocks until every session created so far has finalized or ctx is
// done.
func (a *Agent) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
