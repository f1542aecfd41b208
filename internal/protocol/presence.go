package protocol

import (
	"fmt"
	"strings"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// Presence channel events.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscribe             = "subscribe"
	EventUnsubscribe           = "unsubscribe"
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventMemberAdded           = "member_added"
	EventMemberRemoved         = "member_removed"
	EventClient                = "client_event"
	EventError                 = "error"

	// ClientSignal is the client event name carrying a domain.SignalMessage.
	ClientSignal = "client-signal"

	channelPrefix = "presence-"
)

// PresenceFrame is the msgpack frame exchanged with the presence channel service.
type PresenceFrame struct {
	Event    string   `msgpack:"event"`
	Channel  string   `msgpack:"channel,omitempty"`
	SocketID string   `msgpack:"socket_id,omitempty"`
	Member   string   `msgpack:"member,omitempty"`
	Members  []string `msgpack:"members,omitempty"`
	Name     string   `msgpack:"name,omitempty"`
	Data     []byte   `msgpack:"data,omitempty"`
	Error    string   `msgpack:"error,omitempty"`
}

func (f PresenceFrame) Encode() ([]byte, error) {
	return msgpack.Marshal(&f)
}

func DecodePresenceFrame(data []byte) (PresenceFrame, error) {
	var f PresenceFrame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return PresenceFrame{}, fmt.Errorf("decode presence frame: %w", err)
	}
	if f.Event == "" {
		return PresenceFrame{}, fmt.Errorf("decode presence frame: missing event")
	}
	return f, nil
}

func ChannelName(room domain.RoomID) string {
	return channelPrefix + string(room)
}

func RoomOfChannel(channel string) (domain.RoomID, bool) {
	if !strings.HasPrefix(channel, channelPrefix) || len(channel) == len(channelPrefix) {
		return "", false
	}
	return domain.RoomID(strings.TrimPrefix(channel, channelPrefix)), true
}

func EncodeSignal(msg domain.SignalMessage) ([]byte, error) {
	return msgpack.Marshal(&msg)
}

func DecodeSignal(data []byte) (domain.SignalMessage, error) {
	var msg domain.SignalMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return domain.SignalMessage{}, fmt.Errorf("decode signal: %w", err)
	}
	return msg, nil
}
