package client

import (
	"context"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// Message is one conversation turn sent to the text model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StreamTextParams are parameters for a streamed text generation.
type StreamTextParams struct {
	Model    string
	Messages []Message
}

// StreamText requests a streamed reply and calls onDelta for each text
// fragment in arrival order. It returns once the stream completes.
func (c *Client) StreamText(ctx context.Context, params *StreamTextParams, onDelta func(string)) error {
	if params == nil {
		params = &StreamTextParams{}
	}
	model := params.Model
	if model == "" {
		model = openai.GPT4o
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := c.openai.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return wrapError(OpStreamText, err)
	}
	defer func() { _ = stream.Close() }()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return wrapError(OpStreamText, err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" && onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
	}
}
