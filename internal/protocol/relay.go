// Package protocol holds the wire frames of both signaling bindings.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/MeshCall/internal/domain"
)

// Relay frame types in addition to the domain.MessageType values.
const (
	TypeHello         = "hello"
	TypeJoined        = "joined"
	TypeLeft          = "left"
	TypeUndeliverable = "undeliverable"
	TypeError         = "error"
	TypePing          = "ping"
	TypePong          = "pong"
)

// Envelope is the JSON frame exchanged with the relay server.
type Envelope struct {
	Type    string                 `json:"type"`
	Room    domain.RoomID          `json:"room,omitempty"`
	Sender  domain.ParticipantID   `json:"sender,omitempty"`
	Target  domain.ParticipantID   `json:"target,omitempty"`
	Members []domain.ParticipantID `json:"members,omitempty"`
	Payload json.RawMessage        `json:"payload,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// MustEncode is for frames built from trusted values only.
func MustEncode(e Envelope) []byte {
	b, err := e.Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// Signal converts a relayed negotiation frame into the transport-agnostic message.
func (e Envelope) Signal() domain.SignalMessage {
	return domain.SignalMessage{
		Type:    domain.MessageType(e.Type),
		Sender:  e.Sender,
		Target:  e.Target,
		Payload: e.Payload,
	}
}

func FromSignal(msg domain.SignalMessage) Envelope {
	return Envelope{
		Type:    string(msg.Type),
		Sender:  msg.Sender,
		Target:  msg.Target,
		Payload: msg.Payload,
	}
}
