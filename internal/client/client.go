// Package client provides the speech provider client for internal use.
//
// It wraps an OpenAI-compatible API with four independent round trips:
// transcription, streamed text generation, speech synthesis and JSON-schema
// constrained summarization. None of them retries.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultBaseURL is the speech provider base URL without the API version.
const DefaultBaseURL = "https://api.openai.com"

// Operation names carried by Error.
const (
	OpTranscribe = "transcribe"
	OpStreamText = "stream_text"
	OpSynthesize = "synthesize_speech"
	OpSummarize  = "summarize"
)

// Client is a speech provider client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	openai     *openai.Client
}

// Config configures the client.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new speech provider client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Per-call deadlines come from the caller's context.
		httpClient = &http.Client{
			Timeout: 2 * time.Minute,
		}
	}

	oaCfg := openai.DefaultConfig(apiKey)
	oaCfg.BaseURL = baseURL + "/v1"
	oaCfg.HTTPClient = httpClient

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		openai:     openai.NewClientWithConfig(oaCfg),
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Error is an integration failure from the speech provider.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s failed: %d %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s failed", e.Op)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// maxBodySnippet bounds the upstream body carried in an Error.
const maxBodySnippet = 512

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxBodySnippet {
		s = s[:maxBodySnippet]
	}
	return s
}

// wrapError converts transport and go-openai errors to *Error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var ours *Error
	if errors.As(err, &ours) {
		return err
	}

	out := &Error{Op: op, Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		out.StatusCode = apiErr.HTTPStatusCode
		out.Body = apiErr.Message
	case errors.As(err, &reqErr):
		out.StatusCode = reqErr.HTTPStatusCode
		out.Body = snippet(reqErr.Body)
	}

	return out
}

// statusError builds an Error from a non-2xx raw HTTP response.
func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*maxBodySnippet))
	return &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       snippet(body),
	}
}

// newRequest builds an authenticated raw request against the API.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}
