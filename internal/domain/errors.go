package domain

import "errors"

var (
	// ErrMediaUnavailable is fatal to a join; no room state is created.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrTransportUnavailable is fatal to a join or leave attempt; callers may retry.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrDeliveryFailed reports a directed message to an absent participant.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrNegotiationFailed closes a single link and nothing else.
	ErrNegotiationFailed = errors.New("negotiation failed")

	ErrNotJoined = errors.New("not joined")
)
