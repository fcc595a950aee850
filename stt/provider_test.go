package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/internal/client"
)

type fakeClient struct {
	params   *client.TranscribeParams
	wav      []byte
	text     string
	err      error
	deadline bool
}

func (f *fakeClient) Transcribe(ctx context.Context, wav []byte, params *client.TranscribeParams) (string, error) {
	f.wav = wav
	f.params = params
	_, f.deadline = ctx.Deadline()
	return f.text, f.err
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestTranscribeDefaults(t *testing.T) {
	fc := &fakeClient{text: "  I can pay fifty  "}
	p, err := New(fc)
	require.NoError(t, err)

	text, err := p.Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "I can pay fifty", text)
	assert.Equal(t, "gpt-4o-transcribe", fc.params.Model)
	assert.True(t, fc.params.Stream)
	assert.Empty(t, fc.params.Language)
	assert.True(t, fc.deadline)
}

func TestTranscribeOptions(t *testing.T) {
	fc := &fakeClient{}
	p, err := New(fc,
		WithModel("whisper-1"),
		WithLanguage("en"),
		WithStreaming(false),
		WithTimeout(0),
	)
	require.NoError(t, err)

	_, err = p.Transcribe(context.Background(), []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "whisper-1", fc.params.Model)
	assert.Equal(t, "en", fc.params.Language)
	assert.False(t, fc.params.Stream)
	assert.False(t, fc.deadline)
}

func TestTranscribeEmptyAudioSkipsClient(t *testing.T) {
	fc := &fakeClient{text: "unused"}
	p, err := New(fc)
	require.NoError(t, err)

	text, err := p.Transcribe(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Nil(t, fc.params)
}

func TestTranscribePropagatesError(t *testing.T) {
	want := &client.Error{Op: client.OpTranscribe, StatusCode: 500}
	p, err := New(&fakeClient{err: want}, WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = p.Transcribe(context.Background(), []byte("RIFF"))
	var apiErr *client.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 500, apiErr.StatusCode)
}

func TestTranscribePCMWrapsWAV(t *testing.T) {
	fc := &fakeClient{text: "hello"}
	p, err := New(fc)
	require.NoError(t, err)

	pcm := []byte{1, 0, 2, 0}
	text, err := p.TranscribePCM(context.Background(), pcm, 8000)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	wav, err := audio.UnwrapWAV(fc.wav)
	require.NoError(t, err)
	assert.Equal(t, pcm, wav.PCM)
	assert.Equal(t, 8000, wav.SampleRate)
}
