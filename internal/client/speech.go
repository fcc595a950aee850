package client

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// SpeechParams are parameters for a speech synthesis request.
type SpeechParams struct {
	Model          string
	Voice          string
	ResponseFormat string // "pcm" or "wav"
}

// SynthesizeSpeech converts text to audio in the requested container.
func (c *Client) SynthesizeSpeech(ctx context.Context, text string, params *SpeechParams) ([]byte, error) {
	if params == nil {
		params = &SpeechParams{}
	}
	model := params.Model
	if model == "" {
		model = "gpt-4o-mini-tts"
	}
	voice := params.Voice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	format := params.ResponseFormat
	if format == "" {
		format = string(openai.SpeechResponseFormatPcm)
	}

	resp, err := c.openai.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(format),
	})
	if err != nil {
		return nil, wrapError(OpSynthesize, err)
	}
	defer func() { _ = resp.Close() }()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, wrapError(OpSynthesize, err)
	}
	return audio, nil
}
