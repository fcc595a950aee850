// Package stt provides speech-to-text for call audio.
//
// The provider sends WAV framed telephony audio to the speech provider's
// transcription endpoint, optionally consuming the streamed form of the
// response, and returns the trimmed transcript.
package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/internal/client"
)

// Transcriber is the client capability used by the Provider.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, params *client.TranscribeParams) (string, error)
}

// Verify interface compliance at compile time.
var _ Transcriber = (*client.Client)(nil)

// Provider transcribes audio chunks.
type Provider struct {
	client   Transcriber
	model    string
	language string
	stream   bool
	timeout  time.Duration
	logger   *zap.Logger
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	model    string
	language string
	stream   bool
	timeout  time.Duration
	logger   *zap.Logger
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithLanguage sets an optional language hint (ISO-639-1).
func WithLanguage(language string) Option {
	return func(o *options) {
		o.language = language
	}
}

// WithStreaming enables or disables the streamed transcription response.
func WithStreaming(enabled bool) Option {
	return func(o *options) {
		o.stream = enabled
	}
}

// WithTimeout bounds each transcription round trip.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a new STT provider.
func New(c Transcriber, opts ...Option) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("stt: client is required")
	}

	cfg := &options{
		model:   "gpt-4o-transcribe",
		stream:  true,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return &Provider{
		client:   c,
		model:    cfg.model,
		language: cfg.language,
		stream:   cfg.stream,
		timeout:  cfg.timeout,
		logger:   cfg.logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Transcribe converts a WAV buffer to text.
func (p *Provider) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := p.client.Transcribe(ctx, wav, &client.TranscribeParams{
		Model:    p.model,
		Language: p.language,
		Stream:   p.stream,
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	p.logger.Debug("transcribed chunk",
		zap.Int("wav_bytes", len(wav)),
		zap.Int("chars", len(text)),
		zap.Duration("took", time.Since(start)),
	)
	return text, nil
}

// TranscribePCM wraps mono PCM16 in a WAV container and transcribes it.
func (p *Provider) TranscribePCM(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	return p.Transcribe(ctx, audio.WrapWAV(pcm, sampleRate, 1))
}
