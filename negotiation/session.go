package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge"
	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/internal/chain"
	"github.com/agentplexus/voicebridge/internal/client"
	"github.com/agentplexus/voicebridge/llm"
	"github.com/agentplexus/voicebridge/summary"
	"github.com/agentplexus/voicebridge/vad"
)

// Session is the negotiation state of one call.
//
// HandleAudio must be called from a single goroutine. Start and Finalize may
// be called from any goroutine; Finalize runs at most once.
type Session struct {
	agent     *Agent
	callSid   string
	streamSid string
	out       Output
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// stt orders transcription chunks and utterance commits, llm orders
	// response cycles, synth and playback order outbound audio.
	stt      chain.Chain
	llm      chain.Chain
	synth    chain.Chain
	playback chain.Chain

	generation   atomic.Uint64
	userSpeaking atomic.Bool
	started      atomic.Bool
	finalized    atomic.Bool
	done         chan struct{}

	mu         sync.Mutex
	counters   vad.Counters
	pending    []byte
	userBuffer []string
	history    []llm.Message
	transcript []summary.TranscriptEntry
	events     []summary.Event
	finalState string
	outcome    string
	summary    *string
	startedAt  time.Time
	endedAt    time.Time
}

func newSession(a *Agent, callSid, streamSid string, out Output) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		agent:     a,
		callSid:   callSid,
		streamSid: streamSid,
		out:       out,
		logger: a.logger.With(
			zap.String("call_sid", callSid),
			zap.String("stream_sid", streamSid),
		),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		history: []llm.Message{
			{Role: llm.RoleSystem, Content: a.systemPrompt},
			{Role: llm.RoleAssistant, Content: a.openingPrompt},
		},
		transcript: []summary.TranscriptEntry{},
		events:     []summary.Event{},
		finalState: StateOpening,
		outcome:    OutcomeUnknown,
		startedAt:  a.now(),
	}
}

// CallSid returns the call identifier.
func (s *Session) CallSid() string { return s.callSid }

// StreamSid returns the media stream identifier.
func (s *Session) StreamSid() string { return s.streamSid }

// Done is closed once Finalize has delivered the record and closed the
// output.
func (s *Session) Done() <-chan struct{} { return s.done }

// History returns a copy of the conversation history.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Transcript returns a copy of the transcript log.
func (s *Session) Transcript() []summary.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.transcript)
}

// Start speaks the opening line. Later calls do nothing.
func (s *Session) Start() {
	if s.finalized.Load() || !s.started.CompareAndSwap(false, true) {
		return
	}

	opening := s.agent.openingPrompt
	s.mu.Lock()
	s.appendTranscript(summary.SpeakerAssistant, opening)
	s.mu.Unlock()

	s.logger.Info("negotiation session started")
	s.enqueueSpeech(opening, s.generation.Load())
}

// HandleAudio ingests one inbound 8kHz mu-law frame. It never waits on
// transcription, response generation or playback.
func (s *Session) HandleAudio(mulaw []byte) {
	if len(mulaw) == 0 {
		return
	}
	pcm := audio.MulawDecode(mulaw)
	frameMs := audio.Duration(len(mulaw), voicebridge.SampleRate)

	s.mu.Lock()
	if s.finalized.Load() {
		s.mu.Unlock()
		return
	}

	r := s.agent.detector.Observe(&s.counters, pcm, frameMs)
	if r.Speech {
		s.pending = append(s.pending, pcm...)
	}
	if r.FlushChunk || r.EndOfUtterance {
		s.enqueueTranscription(s.pending)
		s.pending = nil
	}
	if r.EndOfUtterance {
		s.userSpeaking.Store(false)
		s.endUtterance(true)
	}
	s.mu.Unlock()

	if r.BargeIn {
		s.bargeIn()
	}
}

// bargeIn invalidates every queued and playing unit.
func (s *Session) bargeIn() {
	gen := s.generation.Add(1)
	s.userSpeaking.Store(true)
	s.logger.Debug("barge-in", zap.Uint64("generation", gen))

	if c, ok := s.out.(clearer); ok {
		if err := c.Clear(); err != nil {
			s.logger.Debug("clear playback failed", zap.Error(err))
		}
	}
}

// current reports whether audio tagged with gen may still be played.
func (s *Session) current(gen uint64) bool {
	return s.generation.Load() == gen && !s.userSpeaking.Load()
}

// enqueueTranscription submits pcm to the transcription chain. Results are
// appended to the user buffer in submission order.
func (s *Session) enqueueTranscription(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	wav := audio.WrapWAV(pcm, voicebridge.SampleRate, 1)

	s.stt.Submit(func() {
		text, err := s.agent.deps.Transcriber.Transcribe(s.ctx, wav)
		if err != nil {
			s.logFailure("transcription chunk failed", client.OpTranscribe, err)
			return
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}

		s.mu.Lock()
		s.userBuffer = append(s.userBuffer, text)
		s.mu.Unlock()
	})
}

// endUtterance commits the user buffer once every chunk submitted before it
// is transcribed. When respond is set a response cycle follows a non-empty
// utterance.
func (s *Session) endUtterance(respond bool) {
	s.stt.Submit(func() {
		s.mu.Lock()
		text := strings.TrimSpace(strings.Join(s.userBuffer, " "))
		s.userBuffer = nil
		if text != "" {
			s.appendTranscript(summary.SpeakerUser, text)
			s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: text})
		}
		s.mu.Unlock()

		if text != "" && respond {
			s.llm.Submit(s.respond)
		}
	})
}

// respond runs one response cycle: stream the reply, hand sentence units to
// synthesis as they complete and commit the full text. Every unit of the
// cycle carries the generation the cycle started under, so a barge-in while
// the reply is still streaming silences the rest of it.
func (s *Session) respond() {
	gen := s.generation.Load()

	s.mu.Lock()
	history := slices.Clone(s.history)
	s.mu.Unlock()

	buf := sentenceBuffer{minChars: s.agent.chunkMinChars}
	var full strings.Builder

	err := s.agent.deps.Responder.Respond(s.ctx, history, func(delta string) {
		if delta == "" {
			return
		}
		full.WriteString(delta)
		for _, unit := range buf.Add(delta) {
			s.enqueueSpeech(unit, gen)
		}
	})
	if err != nil {
		s.logFailure("response cycle failed", client.OpStreamText, err)
	} else if rest := buf.Flush(); rest != "" {
		s.enqueueSpeech(rest, gen)
	}

	text := strings.TrimSpace(full.String())
	if text == "" {
		return
	}
	s.mu.Lock()
	s.appendTranscript(summary.SpeakerAssistant, text)
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	s.mu.Unlock()
}

// enqueueSpeech queues text for synthesis and playback under gen.
func (s *Session) enqueueSpeech(text string, gen uint64) {
	s.synth.Submit(func() {
		if !s.current(gen) {
			return
		}

		out, err := s.agent.deps.Synthesizer.Synthesize(s.ctx, text)
		if err != nil {
			s.logFailure("speech synthesis failed", client.OpSynthesize, err)
			return
		}
		if !s.current(gen) {
			return
		}

		pcm, rate, err := out.PCM()
		if err != nil {
			s.logFailure("speech decode failed", client.OpSynthesize, err)
			return
		}
		mulaw := audio.MulawEncode(audio.Resample(pcm, rate, voicebridge.SampleRate))

		s.playback.Submit(func() {
			err := s.out.Play(s.ctx, mulaw, func() bool { return s.current(gen) })
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("playback stopped", zap.Error(err))
			}
		})
	})
}

// appendTranscript must be called with mu held.
func (s *Session) appendTranscript(speaker, text string) {
	s.transcript = append(s.transcript, summary.TranscriptEntry{
		Speaker: speaker,
		Text:    strings.TrimSpace(text),
		TS:      summary.FormatTime(s.agent.now()),
	})
}

func (s *Session) logFailure(msg, op string, err error) {
	fields := []zap.Field{zap.String("op", op), zap.Error(err)}
	var apiErr *client.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		fields = append(fields, zap.Int("status", apiErr.StatusCode))
	}
	s.logger.Error(msg, fields...)
}

// Finalize flushes pending speech, waits for transcription and response work
// to drain, summarizes the call, delivers the record to the sink and closes
// the output. Only the first call has any effect.
func (s *Session) Finalize(reason string) {
	if !s.finalized.CompareAndSwap(false, true) {
		return
	}
	defer s.agent.wg.Done()
	defer close(s.done)
	defer s.cancel()

	s.mu.Lock()
	s.endedAt = s.agent.now()
	s.enqueueTranscription(s.pending)
	s.pending = nil
	s.counters.Reset()
	s.endUtterance(false)
	s.mu.Unlock()

	s.drain()
	s.summarize()
	record := s.record()

	ctx, cancel := context.WithTimeout(context.Background(), s.agent.sinkTimeout)
	if err := s.agent.deps.Sink.Save(ctx, record); err != nil {
		s.logger.Error("failed to save call summary", zap.Error(err))
	}
	cancel()

	s.logger.Info("stream finalized",
		zap.String("reason", reason),
		zap.String("final_state", record.FinalState),
		zap.String("outcome", record.Outcome),
		zap.Int("transcript_entries", len(record.Transcript)),
	)

	if err := s.out.Close(); err != nil {
		s.logger.Debug("closing output failed", zap.Error(err))
	}
}

func (s *Session) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), s.agent.drainTimeout)
	defer cancel()

	err := s.stt.Wait(ctx)
	if err == nil {
		err = s.llm.Wait(ctx)
	}
	if err != nil {
		s.logger.Warn("finalize proceeding before pending work drained", zap.Error(err))
	}
}

type summaryInput struct {
	Transcript []summary.TranscriptEntry `json:"transcript"`
	Events     []summary.Event           `json:"events"`
}

type summaryOutput struct {
	FinalState string          `json:"final_state"`
	Outcome    string          `json:"outcome"`
	Summary    *string         `json:"summary"`
	Events     []summary.Event `json:"events"`
}

// summarize applies the model's summary to the session. Failures leave the
// defaults in place.
func (s *Session) summarize() {
	s.mu.Lock()
	input, err := json.MarshalIndent(summaryInput{
		Transcript: s.transcript,
		Events:     s.events,
	}, "", "  ")
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("failed to encode summary input", zap.Error(err))
		return
	}

	text, err := s.agent.deps.Summarizer.Summarize(s.ctx, &llm.SummaryRequest{
		Instructions: SummaryInstructions,
		Input:        string(input),
		SchemaName:   SummarySchemaName,
		Schema:       SummarySchema(),
	})
	if err != nil {
		s.logFailure("failed to generate call summary", client.OpSummarize, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	var out summaryOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		s.logger.Warn("failed to parse summary JSON", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if validState(out.FinalState) {
		s.finalState = out.FinalState
	}
	if validOutcome(out.Outcome) {
		s.outcome = out.Outcome
	}
	if out.Summary != nil && *out.Summary != "" {
		s.summary = out.Summary
	}
	if out.Events != nil {
		s.events = out.Events
	}
}

func (s *Session) record() *summary.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &summary.Record{
		CallSid:    s.callSid,
		StreamSid:  s.streamSid,
		StartedAt:  summary.FormatTime(s.startedAt),
		EndedAt:    summary.FormatTime(s.endedAt),
		Transcript: slices.Clone(s.transcript),
		Events:     slices.Clone(s.events),
		FinalState: s.finalState,
		Outcome:    s.outcome,
		Summary:    s.summary,
	}
}
