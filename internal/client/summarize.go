package client

import (
	"context"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"
)

// SummarizeParams are parameters for a schema constrained completion.
type SummarizeParams struct {
	Model        string
	Instructions string
	Input        string
	SchemaName   string
	Schema       json.RawMessage
}

// Summarize returns the raw text of a completion constrained to the given
// JSON schema. The caller parses it.
func (c *Client) Summarize(ctx context.Context, params *SummarizeParams) (string, error) {
	if params == nil {
		params = &SummarizeParams{}
	}
	model := params.Model
	if model == "" {
		model = openai.GPT4o
	}

	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: params.Instructions},
			{Role: openai.ChatMessageRoleUser, Content: params.Input},
		},
	}
	if len(params.Schema) > 0 {
		name := params.SchemaName
		if name == "" {
			name = "response"
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Schema: params.Schema,
				Strict: true,
			},
		}
	}

	resp, err := c.openai.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", wrapError(OpSummarize, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
