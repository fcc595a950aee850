// Package config loads process configuration from the environment.
//
// Values are read once at startup, after an optional .env file, into an
// immutable Config that is passed to each component's constructor.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Summary sink names accepted by SUMMARY_SINK.
const (
	SinkLog       = "log"
	SinkS3        = "s3"
	SinkFirestore = "firestore"
	SinkSQLite    = "sqlite"
)

// Config is the process configuration.
type Config struct {
	Port          string
	APIVersion    string
	PublicBaseURL string
	LogLevel      string
	LogFormat     string

	Twilio   Twilio
	OpenAI   OpenAI
	Pipeline Pipeline
	Sink     Sink
}

// Twilio configures the telephony webhook.
type Twilio struct {
	AuthToken         string
	ValidateSignature bool
	Greeting          string
}

// OpenAI configures the speech provider.
type OpenAI struct {
	APIKey        string
	BaseURL       string
	STTModel      string
	STTStream     bool
	STTLanguage   string
	LLMModel      string
	SystemPrompt  string
	TTSModel      string
	TTSVoice      string
	TTSFormat     string
	TTSSampleRate int
}

// Pipeline holds the per-call detection thresholds and network timeouts.
type Pipeline struct {
	ChunkMs       int
	VADThreshold  float64
	SilenceMs     int
	BargeInMs     int
	ChunkMinChars int

	STTTimeout     time.Duration
	TTSTimeout     time.Duration
	LLMTimeout     time.Duration
	SummaryTimeout time.Duration
}

// Sink configures where call summaries are delivered.
type Sink struct {
	Kinds []string

	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	S3Bucket           string

	FirestoreProjectID       string
	FirestoreCredentialsFile string
	FirestoreCollection      string

	SQLitePath string
}

// StreamPath is the media stream websocket path.
func (c *Config) StreamPath() string {
	return "/api/" + c.APIVersion + "/twilio/stream"
}

// VoicePath is the voice webhook path.
func (c *Config) VoicePath() string {
	return "/api/" + c.APIVersion + "/twilio/voice"
}

// StatusPath returns the Twilio call status callback path.
func (c *Config) StatusPath() string {
	return "/api/" + c.APIVersion + "/twilio/status"
}

// Load reads .env if present and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, typically os.LookupEnv.
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	e := &env{lookup: lookup}

	cfg := &Config{
		Port:          e.str("PORT", "3000"),
		APIVersion:    e.str("API_VERSION", "v1"),
		PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", ""), "/"),
		LogLevel:      e.str("LOG_LEVEL", "info"),
		LogFormat:     e.str("LOG_FORMAT", "json"),
		Twilio: Twilio{
			AuthToken:         e.str("TWILIO_AUTH_TOKEN", ""),
			ValidateSignature: e.boolean("TWILIO_VALIDATE_SIGNATURE", false),
			Greeting:          e.str("TWILIO_GREETING", ""),
		},
		OpenAI: OpenAI{
			APIKey:        e.str("OPENAI_API_KEY", ""),
			BaseURL:       e.str("OPENAI_BASE_URL", "https://api.openai.com"),
			STTModel:      e.str("OPENAI_STT_MODEL", "gpt-4o-transcribe"),
			STTStream:     e.boolean("OPENAI_STT_STREAM", true),
			STTLanguage:   e.str("OPENAI_STT_LANGUAGE", ""),
			LLMModel:      e.str("OPENAI_LLM_MODEL", "gpt-4o"),
			SystemPrompt:  e.str("OPENAI_LLM_SYSTEM_PROMPT", ""),
			TTSModel:      e.str("OPENAI_TTS_MODEL", "gpt-4o-mini-tts"),
			TTSVoice:      e.str("OPENAI_TTS_VOICE", "alloy"),
			TTSFormat:     strings.ToLower(e.str("OPENAI_TTS_FORMAT", "pcm")),
			TTSSampleRate: e.positiveInt("OPENAI_TTS_SAMPLE_RATE", 24000),
		},
		Pipeline: Pipeline{
			ChunkMs:        e.positiveInt("TWILIO_STT_CHUNK_MS", 600),
			VADThreshold:   e.positiveFloat("TWILIO_VAD_THRESHOLD", 500),
			SilenceMs:      e.positiveInt("TWILIO_VAD_SILENCE_MS", 600),
			BargeInMs:      e.positiveInt("TWILIO_BARGE_IN_MS", 200),
			ChunkMinChars:  e.positiveInt("TWILIO_TTS_CHUNK_MIN_CHARS", 120),
			STTTimeout:     e.duration("STT_TIMEOUT", 10*time.Second),
			TTSTimeout:     e.duration("TTS_TIMEOUT", 10*time.Second),
			LLMTimeout:     e.duration("LLM_TIMEOUT", 30*time.Second),
			SummaryTimeout: e.duration("SUMMARY_TIMEOUT", 30*time.Second),
		},
		Sink: Sink{
			Kinds:                    e.list("SUMMARY_SINK", []string{SinkLog}),
			AWSRegion:                e.str("AWS_REGION", ""),
			AWSAccessKeyID:           e.str("AWS_ACCESS_KEY_ID", ""),
			AWSSecretAccessKey:       e.str("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:                 e.str("S3_BUCKET_NAME", ""),
			FirestoreProjectID:       e.str("FIRESTORE_PROJECT_ID", ""),
			FirestoreCredentialsFile: e.str("FIRESTORE_CREDENTIALS_FILE", ""),
			FirestoreCollection:      e.str("FIRESTORE_CALLS_COLLECTION", "calls"),
			SQLitePath:               e.str("SQLITE_PATH", ""),
		},
	}

	if e.err != nil {
		return nil, e.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.OpenAI.TTSFormat != "pcm" && c.OpenAI.TTSFormat != "wav" {
		return fmt.Errorf("OPENAI_TTS_FORMAT must be pcm or wav, got %q", c.OpenAI.TTSFormat)
	}
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		return fmt.Errorf("TWILIO_AUTH_TOKEN is required when TWILIO_VALIDATE_SIGNATURE is set")
	}

	for _, kind := range c.Sink.Kinds {
		switch kind {
		case SinkLog:
		case SinkS3:
			if c.Sink.S3Bucket == "" {
				return fmt.Errorf("S3_BUCKET_NAME is required for the s3 summary sink")
			}
		case SinkFirestore:
			if c.Sink.FirestoreProjectID == "" {
				return fmt.Errorf("FIRESTORE_PROJECT_ID is required for the firestore summary sink")
			}
		case SinkSQLite:
			if c.Sink.SQLitePath == "" {
				return fmt.Errorf("SQLITE_PATH is required for the sqlite summary sink")
			}
		default:
			return fmt.Errorf("SUMMARY_SINK: unknown sink %q", kind)
		}
	}
	return nil
}

// env reads typed values and keeps the first parse error.
type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) fail(key, value, want string) {
	if e.err == nil {
		e.err = fmt.Errorf("%s: invalid value %q, want %s", key, value, want)
	}
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, "a boolean")
		return def
	}
	return b
}

func (e *env) positiveInt(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		e.fail(key, v, "a positive integer")
		return def
	}
	return n
}

func (e *env) positiveFloat(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		e.fail(key, v, "a positive number")
		return def
	}
	return f
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		e.fail(key, v, "a positive duration such as 10s")
		return def
	}
	return d
}

func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
