// Package vad implements energy based voice activity detection for 8kHz
// telephony frames.
//
// A Detector classifies frames and applies the trigger rules; the running
// Counters belong to the caller so one Detector can serve many calls.
package vad

import "github.com/agentplexus/voicebridge/audio"

// Config holds the detection thresholds.
type Config struct {
	// Threshold is the RMS level at or above which a frame is speech.
	Threshold float64

	// BargeInMs is the speech run length that interrupts playback.
	BargeInMs int

	// ChunkMs is the buffered speech length flushed to transcription
	// without waiting for silence.
	ChunkMs int

	// SilenceMs is the silence run length that ends an utterance.
	SilenceMs int
}

// DefaultConfig returns the thresholds tuned for Twilio Media Streams.
func DefaultConfig() Config {
	return Config{
		Threshold: 500,
		BargeInMs: 200,
		ChunkMs:   600,
		SilenceMs: 600,
	}
}

// Result reports what a single frame triggered.
type Result struct {
	Speech         bool
	BargeIn        bool
	FlushChunk     bool
	EndOfUtterance bool
}

// String returns a compact description for logging.
func (r Result) String() string {
	switch {
	case r.EndOfUtterance:
		return "END_OF_UTTERANCE"
	case r.FlushChunk:
		return "FLUSH_CHUNK"
	case r.BargeIn:
		return "BARGE_IN"
	case r.Speech:
		return "SPEECH"
	default:
		return "SILENCE"
	}
}

// Counters is the per-call running state.
type Counters struct {
	SpeechMs        int
	SilenceMs       int
	PendingSpeechMs int

	bargedIn    bool
	heardSpeech bool
}

// Detector classifies frames against a fixed configuration.
type Detector struct {
	config Config
}

// New creates a Detector. Zero fields fall back to DefaultConfig.
func New(config Config) *Detector {
	def := DefaultConfig()
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BargeInMs <= 0 {
		config.BargeInMs = def.BargeInMs
	}
	if config.ChunkMs <= 0 {
		config.ChunkMs = def.ChunkMs
	}
	if config.SilenceMs <= 0 {
		config.SilenceMs = def.SilenceMs
	}
	return &Detector{config: config}
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.config
}

// Classify reports whether a PCM16 frame is speech.
func (d *Detector) Classify(pcm []byte) bool {
	return audio.RMS(pcm) >= d.config.Threshold
}

// Observe classifies one frame of frameMs milliseconds and advances c.
//
// BargeIn fires once per speech run. FlushChunk and EndOfUtterance reset
// PendingSpeechMs; the caller must drain its pending buffer when either is set.
// EndOfUtterance only fires once speech was heard since the previous boundary.
func (d *Detector) Observe(c *Counters, pcm []byte, frameMs int) Result {
	var r Result
	r.Speech = d.Classify(pcm)

	if r.Speech {
		c.SpeechMs += frameMs
		c.SilenceMs = 0
		c.PendingSpeechMs += frameMs
		c.heardSpeech = true

		if !c.bargedIn && c.SpeechMs >= d.config.BargeInMs {
			c.bargedIn = true
			r.BargeIn = true
		}
	} else {
		c.SilenceMs += frameMs
		c.SpeechMs = 0
		c.bargedIn = false
	}

	if c.PendingSpeechMs >= d.config.ChunkMs {
		c.PendingSpeechMs = 0
		r.FlushChunk = true
	}

	if !r.Speech && c.heardSpeech && c.SilenceMs >= d.config.SilenceMs {
		c.heardSpeech = false
		c.PendingSpeechMs = 0
		r.EndOfUtterance = true
	}

	return r
}

// Reset clears the running state.
func (c *Counters) Reset() {
	*c = Counters{}
}
