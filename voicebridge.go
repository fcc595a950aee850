// Package voicebridge bridges Twilio Media Streams calls to an OpenAI-compatible
// speech stack and runs a realtime negotiation agent on each call.
//
// The module is organized by capability:
//   - audio: mu-law, resampling, WAV framing and RMS measurement
//   - vad: energy based voice activity detection
//   - stt, tts, llm: speech provider capabilities
//   - negotiation: the per-call session orchestrator
//   - transport: Twilio Media Streams WebSocket adapter
//   - callsystem: TwiML voice webhook
//   - summary: call summary records and sinks
//
// # Environment Variables
//
//	OPENAI_API_KEY     - Bearer credential for the speech provider
//	PUBLIC_BASE_URL    - Public base URL used to build the stream URL
//	TWILIO_AUTH_TOKEN  - Twilio Auth Token for webhook signature checks
//	SUMMARY_SINK       - log, s3, firestore or sqlite (comma separated)
//
// # Quick Start
//
//	go run ./cmd/voicebridge
package voicebridge

// Version is the module version.
const Version = "0.1.0"

// ProviderName identifies the telephony provider.
const ProviderName = "twilio"

// Media Streams audio constants.
const (
	// AudioEncodingMulaw is the μ-law encoding (8-bit, 8kHz).
	AudioEncodingMulaw = "audio/x-mulaw"

	// SampleRate is the Twilio Media Streams sample rate (8kHz).
	SampleRate = 8000

	// FrameBytes is the size of one outbound mu-law frame.
	FrameBytes = 160

	// FrameMillis is the real-time duration of one frame.
	FrameMillis = 20
)

// TwiML voice options.
const (
	VoiceAlice = "alice" // Twilio's default voice
)
