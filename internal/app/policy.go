package app

import "github.com/dkeye/MeshCall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	}
	return "none"
}

// Policy decides what happens to a member whose outbound queue is full.
type Policy interface {
	OnBackPressure(room domain.RoomID, member domain.ParticipantID) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackPressure(domain.RoomID, domain.ParticipantID) BackpressureAction {
	return p.Action
}

// PolicyFromConfig maps the configured backpressure name to a Policy.
func PolicyFromConfig(name string) Policy {
	if name == "drop" {
		return SimplePolicy{Action: DropFrame}
	}
	return SimplePolicy{Action: KickMember}
}
