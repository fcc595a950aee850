// Package transport binds Twilio Media Streams websocket connections to call
// sessions.
//
// The provider accepts connections on a single path, demultiplexes inbound
// start, media and stop messages, and paces outbound mu-law audio back to the
// caller in 20ms frames.
package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentplexus/voicebridge"
)

// Finalize reasons reported to sessions.
const (
	ReasonStop        = "twilio_stop"
	ReasonSocketClose = "twilio_socket_closed"
	ReasonSocketError = "twilio_socket_error"
)

// CloseReason is sent with the normal closure frame.
const CloseReason = "call_complete"

// ErrClosed is returned when writing to a closed connection.
var ErrClosed = errors.New("media stream connection closed")

// Session receives the audio of one stream.
type Session interface {
	Start()
	HandleAudio(mulaw []byte)
	Finalize(reason string)
}

// SessionFactory creates the session for a started stream.
type SessionFactory func(start *StartMessage, conn *Connection) Session

// Provider serves Media Streams websocket connections.
type Provider struct {
	path     string
	factory  SessionFactory
	pacing   time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[*Connection]struct{}
}

// Option configures the Provider.
type Option func(*options)

type options struct {
	path        string
	pacing      time.Duration
	logger      *zap.Logger
	checkOrigin func(r *http.Request) bool
}

// WithPath sets the accepted websocket path.
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithFramePacing sets the delay between outbound frames.
func WithFramePacing(d time.Duration) Option {
	return func(o *options) {
		o.pacing = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithCheckOrigin sets the upgrade origin check. All origins are accepted by
// default since Twilio does not send an Origin header.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(o *options) {
		o.checkOrigin = fn
	}
}

// New creates a new Media Streams provider.
func New(factory SessionFactory, opts ...Option) (*Provider, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport: session factory is required")
	}

	cfg := &options{
		path:        "/api/v1/twilio/stream",
		pacing:      voicebridge.FrameMillis * time.Millisecond,
		checkOrigin: func(r *http.Request) bool { return true },
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	return &Provider{
		path:    cfg.path,
		factory: factory,
		pacing:  cfg.pacing,
		logger:  cfg.logger,
		upgrader: websocket.Upgrader{
			CheckOrigin:       cfg.checkOrigin,
			EnableCompression: false,
		},
		connections: make(map[*Connection]struct{}),
	}, nil
}

// Name returns the transport name.
func (p *Provider) Name() string {
	return "twilio-media-streams"
}

// Path returns the accepted websocket path.
func (p *Provider) Path() string {
	return p.path
}

// ServeHTTP rejects requests for any other path and otherwise handles the
// connection until it closes.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != p.path {
		http.NotFound(w, r)
		return
	}
	if err := p.HandleWebSocket(w, r); err != nil {
		p.logger.Warn("media stream upgrade failed",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr),
		)
	}
}

// HandleWebSocket upgrades the request and blocks until the stream ends.
func (p *Provider) HandleWebSocket(w http.ResponseWriter, r *http.Request) error {
	wsConn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade failed: %w", err)
	}

	conn := &Connection{
		ws:         wsConn,
		provider:   p,
		pacing:     p.pacing,
		logger:     p.logger,
		done:       make(chan struct{}),
		readDone:   make(chan struct{}),
		remoteAddr: wsConn.RemoteAddr(),
	}

	p.mu.Lock()
	p.connections[conn] = struct{}{}
	p.mu.Unlock()

	p.logger.Info("media stream connected",
		zap.String("path", p.path),
		zap.String("remote_addr", r.RemoteAddr),
	)

	conn.readLoop()
	return nil
}

// ActiveConnections returns the number of open connections.
func (p *Provider) ActiveConnections() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.connections)
}

// Close closes every open connection. Their sessions finalize as the read
// loops observe the closure.
func (p *Provider) Close() error {
	p.mu.RLock()
	conns := make([]*Connection, 0, len(p.connections))
	for c := range p.connections {
		conns = append(conns, c)
	}
	p.mu.RUnlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return nil
}

func (p *Provider) untrack(c *Connection) {
	p.mu.Lock()
	delete(p.connections, c)
	p.mu.Unlock()
}

// Connection is one Media Streams websocket.
type Connection struct {
	ws       *websocket.Conn
	provider *Provider
	pacing   time.Duration
	logger   *zap.Logger

	writeMu sync.Mutex

	mu         sync.RWMutex
	streamSid  string
	callSid    string
	closed     bool
	closeOnce  sync.Once
	done       chan struct{}
	readDone   chan struct{}
	remoteAddr net.Addr
}

// StreamSid returns the stream identifier, empty before start.
func (c *Connection) StreamSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.streamSid
}

// CallSid returns the call identifier, empty before start.
func (c *Connection) CallSid() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSid
}

// RemoteAddr returns the remote address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// readLoop dispatches inbound messages until the socket ends, then
// finalizes the session.
func (c *Connection) readLoop() {
	var session Session
	reason := ReasonSocketClose

	defer func() {
		close(c.readDone)
		if session != nil {
			session.Finalize(reason)
		}
		c.shutdown()
		c.provider.untrack(c)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.isClosed() && !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				reason = ReasonSocketError
				c.logger.Error("media stream websocket error",
					zap.Error(err),
					zap.String("call_sid", c.CallSid()),
					zap.String("stream_sid", c.StreamSid()),
				)
			}
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			c.logger.Debug("dropping media stream frame", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case *StartMessage:
			if session != nil {
				continue
			}
			c.mu.Lock()
			c.streamSid = m.StreamSid
			c.callSid = m.CallSid
			c.mu.Unlock()

			c.logger.Info("media stream started",
				zap.String("call_sid", m.CallSid),
				zap.String("stream_sid", m.StreamSid),
			)
			session = c.provider.factory(m, c)
			if session != nil {
				session.Start()
			}

		case *MediaMessage:
			if session == nil || len(m.Payload) == 0 {
				continue
			}
			session.HandleAudio(m.Payload)

		case *StopMessage:
			if session == nil {
				continue
			}
			go session.Finalize(ReasonStop)

		default:
			// connected, mark and dtmf carry nothing the session needs.
		}
	}
}

func (c *Connection) writeJSON(v any) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// Play sends mulaw as 160-byte media frames, one per pacing interval.
// Before each frame it consults current; when current reports false the
// rest of the buffer is dropped and Play returns nil.
func (c *Connection) Play(ctx context.Context, mulaw []byte, current func() bool) error {
	streamSid := c.StreamSid()
	if len(mulaw) == 0 || streamSid == "" {
		return nil
	}

	var ticker *time.Ticker
	if c.pacing > 0 {
		ticker = time.NewTicker(c.pacing)
		defer ticker.Stop()
	}

	for offset := 0; offset < len(mulaw); offset += voicebridge.FrameBytes {
		if current != nil && !current() {
			return nil
		}

		end := min(offset+voicebridge.FrameBytes, len(mulaw))
		err := c.writeJSON(outboundMedia{
			Event:     "media",
			StreamSid: streamSid,
			Media: outboundPayload{
				Payload: base64.StdEncoding.EncodeToString(mulaw[offset:end]),
			},
		})
		if err != nil {
			if c.isClosed() {
				return ErrClosed
			}
			return fmt.Errorf("send media frame: %w", err)
		}

		if ticker == nil {
			continue
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return ErrClosed
		}
	}
	return nil
}

// Clear asks Twilio to drop audio it has buffered but not yet played.
func (c *Connection) Clear() error {
	return c.writeJSON(outboundClear{Event: "clear", StreamSid: c.StreamSid()})
}

// Close sends a normal closure frame with CloseReason, waits briefly for the
// peer to acknowledge and closes the socket.
func (c *Connection) Close() error {
	c.sendClose()

	select {
	case <-c.readDone:
	case <-time.After(time.Second):
	}
	return c.shutdown()
}

func (c *Connection) sendClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, CloseReason),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
}

func (c *Connection) shutdown() error {
	c.sendClose()

	var err error
	c.closeOnce.Do(func() {
		err = c.ws.Close()
	})
	return err
}
