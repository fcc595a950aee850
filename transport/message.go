package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound framing errors. Frames that fail to parse are dropped and the
// connection stays open.
var (
	ErrMalformedMessage = errors.New("malformed media stream message")
	ErrUnknownEvent     = errors.New("unknown media stream event")
)

// Message is an inbound Media Streams message. The set of implementations is
// closed: StartMessage, MediaMessage and StopMessage drive the session;
// ConnectedMessage, MarkMessage and DTMFMessage are recognized and ignored.
type Message interface {
	Event() string
	isMessage()
}

// StartMessage opens a stream and carries its identifiers.
type StartMessage struct {
	StreamSid        string
	CallSid          string
	AccountSid       string
	Tracks           []string
	MediaFormat      MediaFormat
	CustomParameters map[string]string
}

// MediaFormat describes inbound audio.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaMessage carries one decoded mu-law frame.
type MediaMessage struct {
	Track     string
	Chunk     string
	Timestamp string
	Payload   []byte
}

// StopMessage ends the stream.
type StopMessage struct {
	CallSid string
}

// ConnectedMessage is the first message on a stream.
type ConnectedMessage struct {
	Protocol string
	Version  string
}

// MarkMessage acknowledges an outbound mark.
type MarkMessage struct {
	Name string
}

// DTMFMessage carries a keypad digit.
type DTMFMessage struct {
	Digit string
}

func (*StartMessage) Event() string     { return "start" }
func (*MediaMessage) Event() string     { return "media" }
func (*StopMessage) Event() string      { return "stop" }
func (*ConnectedMessage) Event() string { return "connected" }
func (*MarkMessage) Event() string      { return "mark" }
func (*DTMFMessage) Event() string      { return "dtmf" }

func (*StartMessage) isMessage()     {}
func (*MediaMessage) isMessage()     {}
func (*StopMessage) isMessage()      {}
func (*ConnectedMessage) isMessage() {}
func (*MarkMessage) isMessage()      {}
func (*DTMFMessage) isMessage()      {}

// wireMessage is the JSON shape of every inbound frame.
type wireMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	Version   string `json:"version,omitempty"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		AccountSid       string            `json:"accountSid"`
		CallSid          string            `json:"callSid"`
		Tracks           []string          `json:"tracks"`
		MediaFormat      MediaFormat       `json:"mediaFormat"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Track     string `json:"track"`
		Chunk     string `json:"chunk"`
		Timestamp string `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`
	Stop *struct {
		AccountSid string `json:"accountSid"`
		CallSid    string `json:"callSid"`
	} `json:"stop,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	DTMF *struct {
		Digit string `json:"digit"`
	} `json:"dtmf,omitempty"`
}

// ParseMessage decodes one inbound text frame.
func ParseMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch w.Event {
	case "start":
		m := &StartMessage{StreamSid: w.StreamSid}
		if w.Start != nil {
			if w.Start.StreamSid != "" {
				m.StreamSid = w.Start.StreamSid
			}
			m.CallSid = w.Start.CallSid
			m.AccountSid = w.Start.AccountSid
			m.Tracks = w.Start.Tracks
			m.MediaFormat = w.Start.MediaFormat
			m.CustomParameters = w.Start.CustomParameters
		}
		return m, nil

	case "media":
		m := &MediaMessage{}
		if w.Media == nil || w.Media.Payload == "" {
			return m, nil
		}
		payload, err := base64.StdEncoding.DecodeString(w.Media.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: media payload: %v", ErrMalformedMessage, err)
		}
		m.Track = w.Media.Track
		m.Chunk = w.Media.Chunk
		m.Timestamp = w.Media.Timestamp
		m.Payload = payload
		return m, nil

	case "stop":
		m := &StopMessage{}
		if w.Stop != nil {
			m.CallSid = w.Stop.CallSid
		}
		return m, nil

	case "connected":
		return &ConnectedMessage{Protocol: w.Protocol, Version: w.Version}, nil

	case "mark":
		m := &MarkMessage{}
		if w.Mark != nil {
			m.Name = w.Mark.Name
		}
		return m, nil

	case "dtmf":
		m := &DTMFMessage{}
		if w.DTMF != nil {
			m.Digit = w.DTMF.Digit
		}
		return m, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, w.Event)
	}
}

// Outbound Media Streams messages.
type outboundMedia struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
