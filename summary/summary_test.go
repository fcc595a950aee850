package summary

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleRecord() *Record {
	text := "Debtor agreed to pay $200 on Friday."
	amount := int64(20000)
	date := "2026-10-16"
	return &Record{
		CallSid:   "CA123",
		StreamSid: "MZ456",
		StartedAt: "2026-10-14T09:30:00.125Z",
		EndedAt:   "2026-10-14T09:34:12.000Z",
		Transcript: []TranscriptEntry{
			{Speaker: SpeakerAssistant, Text: "Hello.", TS: "2026-10-14T09:30:00.200Z"},
			{Speaker: SpeakerUser, Text: "I can pay two hundred.", TS: "2026-10-14T09:30:05.000Z"},
		},
		Events:     []Event{{Type: "PROMISE_TO_PAY", AmountCents: &amount, Date: &date}},
		FinalState: "CLOSING",
		Outcome:    "PROMISE_TO_PAY",
		Summary:    &text,
	}
}

func TestRecordJSONShape(t *testing.T) {
	raw, err := json.Marshal(&Record{FinalState: "OPENING", Outcome: "UNKNOWN"})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"callSid": "", "streamSid": "", "startedAt": "", "endedAt": "",
		"transcript": null, "events": null,
		"final_state": "OPENING", "outcome": "UNKNOWN", "summary": null
	}`, string(raw))

	raw, err = json.Marshal(Event{Type: "CALLBACK_REQUESTED"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"CALLBACK_REQUESTED","amount_cents":null,"date":null,"note":null}`, string(raw))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 10, 14, 9, 30, 0, 5e6, time.FixedZone("X", 3600))
	assert.Equal(t, "2026-10-14T08:30:00.005Z", FormatTime(ts))
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 6e6, time.UTC)

	assert.Equal(t, "twilio/calls/CA123/summary-2026-10-14T09-30-00-125Z.json",
		ObjectKey(sampleRecord(), now))
	assert.Equal(t, "twilio/calls/unknown-call/summary-2026-01-02T03-04-05-006Z.json",
		ObjectKey(&Record{}, now))
	assert.Equal(t, "twilio/calls/CA9/summary-2026-01-02T03-04-05-006Z.json",
		ObjectKey(&Record{CallSid: "CA9", StartedAt: "yesterday"}, now))
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3SinkSave(t *testing.T) {
	fp := &fakePutter{}
	sink := NewS3SinkWithClient(fp, "calls-bucket", nil)

	require.NoError(t, sink.Save(context.Background(), sampleRecord()))

	assert.Equal(t, "calls-bucket", aws.ToString(fp.input.Bucket))
	assert.Equal(t, "twilio/calls/CA123/summary-2026-10-14T09-30-00-125Z.json", aws.ToString(fp.input.Key))
	assert.Equal(t, "application/json", aws.ToString(fp.input.ContentType))

	var got Record
	require.NoError(t, json.Unmarshal(fp.body, &got))
	assert.Equal(t, *sampleRecord(), got)
	assert.Contains(t, string(fp.body), "\n  \"callSid\"")
}

func TestS3SinkError(t *testing.T) {
	sink := NewS3SinkWithClient(&fakePutter{err: errors.New("denied")}, "b", nil)
	err := sink.Save(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNewS3SinkValidates(t *testing.T) {
	_, err := NewS3Sink(context.Background(), S3Config{Region: "us-east-1"}, nil)
	require.Error(t, err)
	_, err = NewS3Sink(context.Background(), S3Config{Bucket: "b"}, nil)
	require.Error(t, err)
}

type fakeWriter struct {
	collection, id string
	data           map[string]any
	closed         bool
}

func (f *fakeWriter) SetDocument(_ context.Context, collection, id string, data map[string]any) error {
	f.collection, f.id, f.data = collection, id, data
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestFirestoreSinkSave(t *testing.T) {
	fw := &fakeWriter{}
	sink := NewFirestoreSinkWithWriter(fw, "", nil)

	require.NoError(t, sink.Save(context.Background(), sampleRecord()))
	assert.Equal(t, "calls", fw.collection)
	assert.Equal(t, "CA123", fw.id)
	assert.Equal(t, "PROMISE_TO_PAY", fw.data["outcome"])
	assert.Equal(t, "MZ456", fw.data["streamSid"])
	assert.Len(t, fw.data["transcript"], 2)

	require.NoError(t, sink.Close())
	assert.True(t, fw.closed)
}

func TestFirestoreSinkGeneratesID(t *testing.T) {
	fw := &fakeWriter{}
	sink := NewFirestoreSinkWithWriter(fw, "negotiations", nil)

	require.NoError(t, sink.Save(context.Background(), &Record{}))
	assert.Equal(t, "negotiations", fw.collection)
	assert.Len(t, fw.id, 36)
}

func TestSQLiteSink(t *testing.T) {
	sink, err := OpenSQLiteSink(":memory:", nil)
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Save(ctx, sampleRecord()))
	require.NoError(t, sink.Save(ctx, &Record{CallSid: "CA123", FinalState: "OPENING", Outcome: "UNKNOWN"}))

	records, err := sink.Records(ctx, "CA123")
	require.NoError(t, err)
	require.Len(t, records, 2)

	var first Record
	require.NoError(t, json.Unmarshal([]byte(records[0]), &first))
	assert.Equal(t, "PROMISE_TO_PAY", first.Outcome)

	var nullSummaries int
	require.NoError(t, sink.db.QueryRow(
		`SELECT COUNT(*) FROM call_summaries WHERE summary IS NULL`).Scan(&nullSummaries))
	assert.Equal(t, 1, nullSummaries)

	none, err := sink.Records(ctx, "CA-missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteSinkFile(t *testing.T) {
	path := t.TempDir() + "/nested/calls.db"
	sink, err := OpenSQLiteSink(path, nil)
	require.NoError(t, err)
	defer sink.Close()

	var mode string
	require.NoError(t, sink.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

type recordingSink struct {
	saved []*Record
	err   error
}

func (r *recordingSink) Save(_ context.Context, rec *Record) error {
	r.saved = append(r.saved, rec)
	return r.err
}

func TestMultiSinkDeliversToAll(t *testing.T) {
	a := &recordingSink{err: errors.New("a down")}
	b := &recordingSink{}
	m := NewMultiSink(a, nil, b)
	assert.Equal(t, 2, m.Len())

	err := m.Save(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a down")
	assert.Len(t, a.saved, 1)
	assert.Len(t, b.saved, 1)

	assert.NoError(t, NewMultiSink().Save(context.Background(), sampleRecord()))
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Save(context.Background(), sampleRecord()))
	require.Equal(t, 1, logs.Len())

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "CA123", fields["call_sid"])
	assert.Equal(t, "PROMISE_TO_PAY", fields["outcome"])
	assert.Equal(t, int64(2), fields["transcript_entries"])

	assert.Error(t, sink.Save(context.Background(), nil))
}
