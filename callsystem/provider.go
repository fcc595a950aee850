// Package callsystem answers Twilio voice webhooks and tracks the calls they
// announce.
//
// The voice webhook returns TwiML that optionally speaks a greeting and then
// connects the call to the Media Streams endpoint served by the transport
// package. Status callbacks and stream lifecycle events keep an in-memory
// view of every active call.
package callsystem

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge"
)

// ErrNoStreamURL is returned when the Media Streams URL cannot be derived
// from the public base URL.
var ErrNoStreamURL = errors.New("media stream url is not configured")

// ErrInvalidSignature is returned when a webhook fails Twilio signature
// validation.
var ErrInvalidSignature = errors.New("invalid twilio signature")

// CallDirection is inbound or outbound.
type CallDirection string

const (
	Inbound  CallDirection = "inbound"
	Outbound CallDirection = "outbound"
)

// CallStatus is the lifecycle state of a call.
type CallStatus string

const (
	StatusRinging   CallStatus = "ringing"
	StatusAnswered  CallStatus = "answered"
	StatusStreaming CallStatus = "streaming"
	StatusEnded     CallStatus = "ended"
	StatusBusy      CallStatus = "busy"
	StatusNoAnswer  CallStatus = "no_answer"
	StatusFailed    CallStatus = "failed"
)

// Provider builds TwiML for the voice webhook and tracks calls.
type Provider struct {
	publicBaseURL string
	streamPath    string
	greeting      string
	validator     *client.RequestValidator
	logger        *zap.Logger
	now           func() time.Time

	mu    sync.RWMutex
	calls map[string]*Call
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	publicBaseURL string
	streamPath    string
	greeting      string
	authToken     string
	validate      bool
	logger        *zap.Logger
}

// WithPublicBaseURL sets the externally reachable base URL of this service.
func WithPublicBaseURL(u string) Option {
	return func(o *options) {
		o.publicBaseURL = u
	}
}

// WithStreamPath sets the Media Streams path appended to the base URL.
func WithStreamPath(path string) Option {
	return func(o *options) {
		o.streamPath = path
	}
}

// WithGreeting sets the text spoken before the stream connects.
func WithGreeting(text string) Option {
	return func(o *options) {
		o.greeting = text
	}
}

// WithSignatureValidation enables X-Twilio-Signature checks with authToken.
func WithSignatureValidation(authToken string) Option {
	return func(o *options) {
		o.authToken = authToken
		o.validate = true
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New creates a new Provider.
func New(opts ...Option) (*Provider, error) {
	cfg := &options{
		streamPath: "/api/v1/twilio/stream",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	p := &Provider{
		publicBaseURL: strings.TrimRight(cfg.publicBaseURL, "/"),
		streamPath:    cfg.streamPath,
		greeting:      strings.TrimSpace(cfg.greeting),
		logger:        cfg.logger,
		now:           time.Now,
		calls:         make(map[string]*Call),
	}

	if cfg.validate {
		if cfg.authToken == "" {
			return nil, fmt.Errorf("callsystem: auth token is required for signature validation")
		}
		v := client.NewRequestValidator(cfg.authToken)
		p.validator = &v
	}

	return p, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return voicebridge.ProviderName
}

// StreamURL returns the Media Streams URL: the public base URL with http
// upgraded to ws and https to wss, plus the stream path.
func (p *Provider) StreamURL() (string, error) {
	if p.publicBaseURL == "" {
		return "", ErrNoStreamURL
	}

	u, err := url.Parse(p.publicBaseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrNoStreamURL, p.publicBaseURL)
	}

	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrNoStreamURL, u.Scheme)
	}

	u.Path = strings.TrimRight(u.Path, "/") + p.streamPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// ValidateSignature checks signature for a webhook request to path with the
// given form parameters. It always succeeds when validation is disabled.
func (p *Provider) ValidateSignature(requestURI string, params map[string]string, signature string) error {
	if p.validator == nil {
		return nil
	}
	if signature == "" || !p.validator.Validate(p.publicBaseURL+requestURI, params, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// HandleIncomingWebhook registers the call and returns the TwiML that
// connects it to the Media Streams endpoint.
func (p *Provider) HandleIncomingWebhook(callSID, from, to string, direction CallDirection) (*Call, string, error) {
	streamURL, err := p.StreamURL()
	if err != nil {
		return nil, "", err
	}

	doc, err := p.buildTwiML(streamURL, direction)
	if err != nil {
		return nil, "", fmt.Errorf("build twiml: %w", err)
	}

	if callSID == "" {
		return nil, doc, nil
	}

	call := &Call{
		id:        callSID,
		direction: direction,
		status:    StatusRinging,
		from:      from,
		to:        to,
		startTime: p.now(),
		now:       p.now,
	}

	p.mu.Lock()
	if existing, ok := p.calls[callSID]; ok {
		call = existing
	} else {
		p.calls[callSID] = call
	}
	p.mu.Unlock()

	p.logger.Info("incoming call",
		zap.String("call_sid", callSID),
		zap.String("direction", string(direction)),
	)
	return call, doc, nil
}

// buildTwiML creates the voice response: an optional greeting followed by a
// bidirectional Media Stream.
func (p *Provider) buildTwiML(streamURL string, direction CallDirection) (string, error) {
	var elements []twiml.Element
	if p.greeting != "" {
		elements = append(elements, &twiml.VoiceSay{
			Voice:   voicebridge.VoiceAlice,
			Message: p.greeting,
		})
	}

	stream := &twiml.VoiceStream{
		Url: streamURL,
		InnerElements: []twiml.Element{
			&twiml.VoiceParameter{Name: "direction", Value: string(direction)},
		},
	}
	elements = append(elements, &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	})

	return twiml.Voice(elements)
}

// HandleStatusCallback applies a Twilio call status callback. Ended calls
// are forgotten.
func (p *Provider) HandleStatusCallback(callSID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[callSID]
	if !ok {
		return
	}
	mapped := mapCallStatus(status)
	call.setStatus(mapped)

	switch mapped {
	case StatusEnded, StatusFailed, StatusBusy, StatusNoAnswer:
		delete(p.calls, callSID)
	}
}

// StreamStarted records that the Media Stream of callSID connected. Calls
// that never passed through the webhook are registered on the fly.
func (p *Provider) StreamStarted(callSID, streamSID string) *Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	call, ok := p.calls[callSID]
	if !ok {
		call = &Call{
			id:        callSID,
			direction: Inbound,
			startTime: p.now(),
			now:       p.now,
		}
		p.calls[callSID] = call
	}
	call.mu.Lock()
	call.status = StatusStreaming
	call.streamSID = streamSID
	call.mu.Unlock()
	return call
}

// StreamEnded marks callSID as ended and forgets it.
func (p *Provider) StreamEnded(callSID string) {
	p.mu.Lock()
	call, ok := p.calls[callSID]
	delete(p.calls, callSID)
	p.mu.Unlock()

	if ok {
		call.setStatus(StatusEnded)
	}
}

// GetCall returns the active call with the given id.
func (p *Provider) GetCall(callSID string) (*Call, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	call, ok := p.calls[callSID]
	return call, ok
}

// ListCalls returns all active calls.
func (p *Provider) ListCalls() []*Call {
	p.mu.RLock()
	defer p.mu.RUnlock()

	calls := make([]*Call, 0, len(p.calls))
	for _, c := range p.calls {
		calls = append(calls, c)
	}
	return calls
}

// Call is one Twilio call known to the provider.
type Call struct {
	id        string
	direction CallDirection
	from      string
	to        string
	startTime time.Time
	now       func() time.Time

	mu        sync.RWMutex
	status    CallStatus
	streamSID string
}

// ID returns the call identifier.
func (c *Call) ID() string {
	return c.id
}

// Direction returns inbound or outbound.
func (c *Call) Direction() CallDirection {
	return c.direction
}

// Status returns the current call status.
func (c *Call) Status() CallStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Call) setStatus(s CallStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// StreamSID returns the Media Stream identifier, empty until the stream
// starts.
func (c *Call) StreamSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSID
}

// From returns the caller ID.
func (c *Call) From() string {
	return c.from
}

// To returns the called number.
func (c *Call) To() string {
	return c.to
}

// StartTime returns when the call was first seen.
func (c *Call) StartTime() time.Time {
	return c.startTime
}

// Duration returns the time since the call was first seen.
func (c *Call) Duration() time.Duration {
	return c.now().Sub(c.startTime)
}

// mapCallStatus maps a Twilio CallStatus value.
func mapCallStatus(status string) CallStatus {
	switch status {
	case "queued", "ringing":
		return StatusRinging
	case "in-progress":
		return StatusAnswered
	case "completed":
		return StatusEnded
	case "busy":
		return StatusBusy
	case "no-answer":
		return StatusNoAnswer
	case "failed", "canceled":
		return StatusFailed
	default:
		return StatusRinging
	}
}

// mapDirection maps a Twilio Direction value.
func mapDirection(dir string) CallDirection {
	if dir == "" || dir == "inbound" {
		return Inbound
	}
	return Outbound
}
