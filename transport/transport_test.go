package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"event":"start","start":{"callSid":"CA1","streamSid":"MZ1","mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`))
	require.NoError(t, err)
	start, ok := msg.(*StartMessage)
	require.True(t, ok)
	assert.Equal(t, "CA1", start.CallSid)
	assert.Equal(t, "MZ1", start.StreamSid)
	assert.Equal(t, 8000, start.MediaFormat.SampleRate)
	assert.Equal(t, "start", start.Event())

	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0x7F, 0x00})
	msg, err = ParseMessage([]byte(`{"event":"media","media":{"track":"inbound","payload":"` + payload + `"}}`))
	require.NoError(t, err)
	media, ok := msg.(*MediaMessage)
	require.True(t, ok)
	assert.Equal(t, []byte{0xFF, 0x7F, 0x00}, media.Payload)
	assert.Equal(t, "inbound", media.Track)

	msg, err = ParseMessage([]byte(`{"event":"stop","stop":{"callSid":"CA1"}}`))
	require.NoError(t, err)
	assert.IsType(t, &StopMessage{}, msg)

	for _, ev := range []string{"connected", "mark", "dtmf"} {
		msg, err = ParseMessage([]byte(`{"event":"` + ev + `"}`))
		require.NoError(t, err)
		assert.Equal(t, ev, msg.Event())
	}
}

func TestParseMessageErrors(t *testing.T) {
	_, err := ParseMessage([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ParseMessage([]byte(`{"event":"media","media":{"payload":"%%%"}}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ParseMessage([]byte(`{"event":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)

	msg, err := ParseMessage([]byte(`{"event":"media"}`))
	require.NoError(t, err)
	assert.Empty(t, msg.(*MediaMessage).Payload)
}

type fakeSession struct {
	mu        sync.Mutex
	started   int
	frames    [][]byte
	reasons   []string
	finalized chan struct{}
	once      sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{finalized: make(chan struct{})}
}

func (s *fakeSession) Start() {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
}

func (s *fakeSession) HandleAudio(mulaw []byte) {
	s.mu.Lock()
	s.frames = append(s.frames, append([]byte(nil), mulaw...))
	s.mu.Unlock()
}

func (s *fakeSession) Finalize(reason string) {
	s.mu.Lock()
	s.reasons = append(s.reasons, reason)
	s.mu.Unlock()
	s.once.Do(func() { close(s.finalized) })
}

func (s *fakeSession) snapshot() (int, [][]byte, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, s.frames, append([]string(nil), s.reasons...)
}

type harness struct {
	provider *Provider
	server   *httptest.Server
	session  *fakeSession
	conns    chan *Connection
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{session: newFakeSession(), conns: make(chan *Connection, 1)}

	p, err := New(func(start *StartMessage, conn *Connection) Session {
		h.conns <- conn
		return h.session
	}, WithFramePacing(time.Millisecond))
	require.NoError(t, err)

	h.provider = p
	h.server = httptest.NewServer(p)
	t.Cleanup(h.server.Close)
	return h
}

func (h *harness) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(v))
}

func startFrame() map[string]any {
	return map[string]any{
		"event": "start",
		"start": map[string]any{"callSid": "CA1", "streamSid": "MZ1"},
	}
}

func mediaFrame(payload []byte) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]any{"payload": base64.StdEncoding.EncodeToString(payload)},
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestRejectsOtherPaths(t *testing.T) {
	h := newHarness(t)
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/elsewhere"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamLifecycle(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())

	// Media before start has no session to go to.
	sendJSON(t, ws, mediaFrame([]byte{1}))
	sendJSON(t, ws, map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	sendJSON(t, ws, startFrame())
	sendJSON(t, ws, startFrame())
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("garbage")))
	sendJSON(t, ws, mediaFrame([]byte{2, 3}))
	sendJSON(t, ws, map[string]any{"event": "media", "media": map[string]any{"payload": ""}})
	sendJSON(t, ws, mediaFrame([]byte{4}))
	sendJSON(t, ws, map[string]any{"event": "stop"})

	waitFor(t, h.session.finalized)

	conn := <-h.conns
	assert.Equal(t, "CA1", conn.CallSid())
	assert.Equal(t, "MZ1", conn.StreamSid())

	started, frames, reasons := h.session.snapshot()
	assert.Equal(t, 1, started)
	assert.Equal(t, [][]byte{{2, 3}, {4}}, frames)
	require.NotEmpty(t, reasons)
	assert.Equal(t, ReasonStop, reasons[0])
}

func TestSocketCloseFinalizes(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())

	sendJSON(t, ws, startFrame())
	<-h.conns
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))

	waitFor(t, h.session.finalized)
	_, _, reasons := h.session.snapshot()
	assert.Equal(t, []string{ReasonSocketClose}, reasons)

	assert.Eventually(t, func() bool { return h.provider.ActiveConnections() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestSocketErrorFinalizes(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())

	sendJSON(t, ws, startFrame())
	<-h.conns
	// Drop the TCP connection without a close frame.
	require.NoError(t, ws.UnderlyingConn().Close())

	waitFor(t, h.session.finalized)
	_, _, reasons := h.session.snapshot()
	assert.Equal(t, []string{ReasonSocketError}, reasons)
}

type outbound struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func readOutbound(t *testing.T, ws *websocket.Conn) outbound {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var out outbound
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestPlaySplitsIntoFrames(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())
	sendJSON(t, ws, startFrame())
	conn := <-h.conns

	audio := make([]byte, 400)
	for i := range audio {
		audio[i] = byte(i)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- conn.Play(context.Background(), audio, func() bool { return true }) }()

	var got []byte
	for _, size := range []int{160, 160, 80} {
		out := readOutbound(t, ws)
		assert.Equal(t, "media", out.Event)
		assert.Equal(t, "MZ1", out.StreamSid)
		frame, err := base64.StdEncoding.DecodeString(out.Media.Payload)
		require.NoError(t, err)
		assert.Len(t, frame, size)
		got = append(got, frame...)
	}
	assert.Equal(t, audio, got)
	require.NoError(t, <-errCh)
}

func TestPlayStopsWhenStale(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())
	sendJSON(t, ws, startFrame())
	conn := <-h.conns

	calls := 0
	current := func() bool {
		calls++
		return calls == 1
	}
	require.NoError(t, conn.Play(context.Background(), make([]byte, 480), current))
	assert.Equal(t, 2, calls)

	readOutbound(t, ws)
	require.NoError(t, conn.Clear())
	raw := readOutbound(t, ws)
	assert.Equal(t, "clear", raw.Event)
}

func TestPlayPacesFrames(t *testing.T) {
	h := newHarness(t)
	h.provider.pacing = 20 * time.Millisecond
	ws := h.dial(t, h.provider.Path())
	sendJSON(t, ws, startFrame())
	conn := <-h.conns

	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	start := time.Now()
	require.NoError(t, conn.Play(context.Background(), make([]byte, 160*5), nil))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestCloseSendsCallComplete(t *testing.T) {
	h := newHarness(t)
	ws := h.dial(t, h.provider.Path())
	sendJSON(t, ws, startFrame())
	conn := <-h.conns

	go func() { _ = conn.Close() }()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr))
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, CloseReason, closeErr.Text)

	waitFor(t, h.session.finalized)
	assert.ErrorIs(t, conn.Play(context.Background(), []byte{1}, nil), ErrClosed)
	assert.NoError(t, conn.Close())
}

func TestNewRequiresFactory(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
