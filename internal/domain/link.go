package domain

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	}
	return "unknown"
}

type LinkState int

const (
	LinkIdle LinkState = iota
	LinkNegotiating
	LinkConnected
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkIdle:
		return "idle"
	case LinkNegotiating:
		return "negotiating"
	case LinkConnected:
		return "connected"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// LinkInfo is a read-only view of one PeerLink.
type LinkInfo struct {
	Remote ParticipantID `json:"remote"`
	Role   Role          `json:"role"`
	State  LinkState     `json:"state"`
}
