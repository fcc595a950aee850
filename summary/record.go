// Package summary defines the finalized call record and the sinks that
// persist it.
//
// A Record is produced exactly once per call and handed to a Sink. Sinks
// must be safe for concurrent use; many calls finalize at the same time.
package summary

import (
	"context"
	"encoding/json"
	"time"
)

// TimeLayout is the timestamp format used in records: RFC 3339 in UTC with
// millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// FormatTime formats t with TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Speakers in a transcript.
const (
	SpeakerAssistant = "assistant"
	SpeakerUser      = "user"
)

// TranscriptEntry is one utterance in the call transcript.
//
// Entries are appended in wall-clock order as each utterance is committed.
// Both speakers may appear back to back; consumers needing strict turn order
// should sort by TS.
type TranscriptEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	TS      string `json:"ts"`
}

// Event is a structured negotiation event extracted by summarization.
type Event struct {
	Type        string  `json:"type"`
	AmountCents *int64  `json:"amount_cents"`
	Date        *string `json:"date"`
	Note        *string `json:"note"`
}

// Record is the summary of one finalized call.
type Record struct {
	CallSid    string            `json:"callSid"`
	StreamSid  string            `json:"streamSid"`
	StartedAt  string            `json:"startedAt"`
	EndedAt    string            `json:"endedAt"`
	Transcript []TranscriptEntry `json:"transcript"`
	Events     []Event           `json:"events"`
	FinalState string            `json:"final_state"`
	Outcome    string            `json:"outcome"`
	Summary    *string           `json:"summary"`
}

// MarshalIndent returns the pretty-printed JSON form of r.
func (r *Record) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Sink persists call records.
type Sink interface {
	Save(ctx context.Context, record *Record) error
}
