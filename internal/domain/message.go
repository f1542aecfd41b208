package domain

import "encoding/json"

type MessageType string

const (
	MsgJoin      MessageType = "join"
	MsgLeave     MessageType = "leave"
	MsgOffer     MessageType = "offer"
	MsgAnswer    MessageType = "answer"
	MsgCandidate MessageType = "candidate"
)

// Directed reports whether messages of this type carry a target.
func (t MessageType) Directed() bool {
	switch t {
	case MsgOffer, MsgAnswer, MsgCandidate:
		return true
	}
	return false
}

// SignalMessage is the transport-agnostic envelope. Target is empty for broadcast presence.
// Payload is forwarded 1:1 between peers and never interpreted by the transport.
type SignalMessage struct {
	Type    MessageType     `json:"type" msgpack:"type"`
	Sender  ParticipantID   `json:"sender" msgpack:"sender"`
	Target  ParticipantID   `json:"target,omitempty" msgpack:"target,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
}
