package summary

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// LogSink writes records to a logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs each record at info level.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Save logs the record.
func (s *LogSink) Save(_ context.Context, r *Record) error {
	if r == nil {
		return fmt.Errorf("summary: nil record")
	}
	summary := ""
	if r.Summary != nil {
		summary = *r.Summary
	}
	s.logger.Info("call summary",
		zap.String("call_sid", r.CallSid),
		zap.String("stream_sid", r.StreamSid),
		zap.String("started_at", r.StartedAt),
		zap.String("ended_at", r.EndedAt),
		zap.String("final_state", r.FinalState),
		zap.String("outcome", r.Outcome),
		zap.String("summary", summary),
		zap.Int("transcript_entries", len(r.Transcript)),
		zap.Int("events", len(r.Events)),
	)
	return nil
}

// MultiSink fans a record out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink creates a sink delivering to every non-nil sink in order.
func NewMultiSink(sinks ...Sink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Save delivers r to every sink. A failing sink does not prevent delivery to
// the others; the errors are joined.
func (m *MultiSink) Save(ctx context.Context, r *Record) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Save(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// Verify interface compliance at compile time.
var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MultiSink)(nil)
	_ Sink = (*S3Sink)(nil)
	_ Sink = (*FirestoreSink)(nil)
	_ Sink = (*SQLiteSink)(nil)
)
