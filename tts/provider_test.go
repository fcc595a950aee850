package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/voicebridge/audio"
	"github.com/agentplexus/voicebridge/internal/client"
)

type fakeClient struct {
	text   string
	params *client.SpeechParams
	audio  []byte
	err    error
}

func (f *fakeClient) SynthesizeSpeech(_ context.Context, text string, params *client.SpeechParams) ([]byte, error) {
	f.text = text
	f.params = params
	return f.audio, f.err
}

func TestNewValidatesFormat(t *testing.T) {
	_, err := New(&fakeClient{}, WithFormat("mp3"))
	require.Error(t, err)

	_, err = New(&fakeClient{}, WithSampleRate(0))
	require.Error(t, err)

	p, err := New(&fakeClient{}, WithFormat("WAV"), WithSampleRate(0))
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, p.format)
}

func TestSynthesizeDefaults(t *testing.T) {
	fc := &fakeClient{audio: []byte{1, 0, 2, 0}}
	p, err := New(fc)
	require.NoError(t, err)

	s, err := p.Synthesize(context.Background(), "  Hello there.  ")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", fc.text)
	assert.Equal(t, "gpt-4o-mini-tts", fc.params.Model)
	assert.Equal(t, "alloy", fc.params.Voice)
	assert.Equal(t, FormatPCM, fc.params.ResponseFormat)

	pcm, rate, err := s.PCM()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 2, 0}, pcm)
	assert.Equal(t, 24000, rate)
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	fc := &fakeClient{}
	p, err := New(fc)
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "   ")
	require.Error(t, err)
	assert.Nil(t, fc.params)
}

func TestSynthesizeWAVUnwraps(t *testing.T) {
	pcm := []byte{10, 0, 20, 0, 30, 0}
	fc := &fakeClient{audio: audio.WrapWAV(pcm, 16000, 1)}
	p, err := New(fc, WithFormat(FormatWAV), WithVoice("verse"))
	require.NoError(t, err)

	s, err := p.Synthesize(context.Background(), "Hi.")
	require.NoError(t, err)
	assert.Equal(t, "verse", fc.params.Voice)

	got, rate, err := s.PCM()
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
	assert.Equal(t, 16000, rate)
}

func TestSynthesisPCMBadWAV(t *testing.T) {
	s := &Synthesis{Audio: []byte("not a wav file at all"), Format: FormatWAV}
	_, _, err := s.PCM()
	assert.True(t, errors.Is(err, audio.ErrInvalidWAV))
}

func TestSynthesizePropagatesError(t *testing.T) {
	want := &client.Error{Op: client.OpSynthesize, StatusCode: 429}
	p, err := New(&fakeClient{err: want})
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "x")
	assert.ErrorIs(t, err, want)
}
