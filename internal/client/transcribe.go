package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// TranscribeParams are parameters for a transcription request.
type TranscribeParams struct {
	Model    string
	Language string // optional
	Stream   bool   // consume an SSE stream of text deltas
}

// Transcribe converts a WAV buffer to text.
func (c *Client) Transcribe(ctx context.Context, wav []byte, params *TranscribeParams) (string, error) {
	if params == nil {
		params = &TranscribeParams{}
	}
	model := params.Model
	if model == "" {
		model = "gpt-4o-transcribe"
	}

	if params.Stream {
		return c.transcribeStream(ctx, wav, model, params.Language)
	}

	resp, err := c.openai.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: params.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", wrapError(OpTranscribe, err)
	}
	return resp.Text, nil
}

// transcriptEvent is one SSE event of a streamed transcription.
type transcriptEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
	Text  string `json:"text"`
}

func (c *Client) transcribeStream(ctx context.Context, wav []byte, model, language string) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := [][2]string{
		{"model", model},
		{"response_format", "json"},
		{"stream", "true"},
	}
	if language != "" {
		fields = append(fields, [2]string{"language", language})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return "", wrapError(OpTranscribe, err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := form.CreatePart(header)
	if err != nil {
		return "", wrapError(OpTranscribe, err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", wrapError(OpTranscribe, err)
	}
	if err := form.Close(); err != nil {
		return "", wrapError(OpTranscribe, err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v1/audio/transcriptions", &body)
	if err != nil {
		return "", wrapError(OpTranscribe, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", wrapError(OpTranscribe, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(OpTranscribe, resp)
	}

	var (
		transcript strings.Builder
		sawDelta   bool
	)
	err = readSSE(resp.Body, func(raw json.RawMessage) error {
		var ev transcriptEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil
		}
		switch ev.Type {
		case "transcript.text.delta":
			sawDelta = true
			transcript.WriteString(ev.Delta)
		case "transcript.text.done":
			// done carries the whole transcript; it only counts when no
			// deltas were streamed.
			if !sawDelta {
				transcript.WriteString(ev.Text)
			}
		}
		return nil
	})
	if err != nil {
		return "", wrapError(OpTranscribe, fmt.Errorf("read transcription stream: %w", err))
	}

	return transcript.String(), nil
}
