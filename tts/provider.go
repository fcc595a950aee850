// Package tts provides text-to-speech for call playback.
//
// Audio comes back from the speech provider either as raw PCM16 at a known
// sample rate or inside a WAV container. Synthesis.PCM normalizes both to
// mono PCM16 so callers can resample and re-encode for the telephony leg.
package tts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/internal/client"
)

// Audio container formats.
const (
	FormatPCM = "pcm"
	FormatWAV = "wav"
)

// Synthesizer is the client capability used by the Provider.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string, params *client.SpeechParams) ([]byte, error)
}

// Verify interface compliance at compile time.
var _ Synthesizer = (*client.Client)(nil)

// Synthesis is the result of one synthesis request.
type Synthesis struct {
	Audio      []byte
	Format     string
	SampleRate int // meaningful for FormatPCM only
}

// PCM returns mono PCM16 samples and their sample rate.
func (s *Synthesis) PCM() ([]byte, int, error) {
	switch s.Format {
	case FormatPCM:
		return s.Audio, s.SampleRate, nil
	case FormatWAV:
		wav, err := audio.UnwrapWAV(s.Audio)
		if err != nil {
			return nil, 0, err
		}
		return wav.PCM, wav.SampleRate, nil
	default:
		return nil, 0, fmt.Errorf("tts: unsupported format %q", s.Format)
	}
}

// Provider synthesizes speech.
type Provider struct {
	client     Synthesizer
	model      string
	voice      string
	format     string
	sampleRate int
	timeout    time.Duration
	logger     *zap.Logger
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	model      string
	voice      string
	format     string
	sampleRate int
	timeout    time.Duration
	logger     *zap.Logger
}

// WithModel sets the synthesis model.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(o *options) {
		o.voice = voice
	}
}

// WithFormat sets the response container, FormatPCM or FormatWAV.
func WithFormat(format string) Option {
	return func(o *options) {
		o.format = format
	}
}

// WithSampleRate sets the sample rate of raw PCM responses.
func WithSampleRate(rate int) Option {
	return func(o *options) {
		o.sampleRate = rate
	}
}

// WithTimeout bounds each synthesis round trip.
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

// New creates a new TTS provider.
func New(c Synthesizer, opts ...Option) (*Provider, error) {
	if c == nil {
		return nil, fmt.Errorf("tts: client is required")
	}

	cfg := &options{
		model:      "gpt-4o-mini-tts",
		voice:      "alloy",
		format:     FormatPCM,
		sampleRate: 24000,
		timeout:    10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	cfg.format = strings.ToLower(cfg.format)
	if cfg.format != FormatPCM && cfg.format != FormatWAV {
		return nil, fmt.Errorf("tts: unsupported format %q", cfg.format)
	}
	if cfg.format == FormatPCM && cfg.sampleRate <= 0 {
		return nil, fmt.Errorf("tts: sample rate must be positive for pcm")
	}

	return &Provider{
		client:     c,
		model:      cfg.model,
		voice:      cfg.voice,
		format:     cfg.format,
		sampleRate: cfg.sampleRate,
		timeout:    cfg.timeout,
		logger:     cfg.logger,
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "openai"
}

// Synthesize converts text to speech.
func (p *Provider) Synthesize(ctx context.Context, text string) (*Synthesis, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("tts: text is required")
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	data, err := p.client.SynthesizeSpeech(ctx, text, &client.SpeechParams{
		Model:          p.model,
		Voice:          p.voice,
		ResponseFormat: p.format,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("synthesized unit",
		zap.Int("chars", len(text)),
		zap.Int("audio_bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)

	return &Synthesis{
		Audio:      data,
		Format:     p.format,
		SampleRate: p.sampleRate,
	}, nil
}
