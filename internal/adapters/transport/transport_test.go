package transport

import (
	"testing"

	"github.com/dkeye/MeshCall/internal/adapters/transport/presence"
	"github.com/dkeye/MeshCall/internal/adapters/transport/relay"
	"github.com/dkeye/MeshCall/internal/config"
)

func TestNewFromConfig(t *testing.T) {
	tr, err := NewFromConfig(&config.Config{Transport: config.TransportRelay, ServerURL: "ws://x"})
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if _, ok := tr.(*relay.Transport); !ok {
		t.Fatalf("relay config built %T", tr)
	}

	tr, err = NewFromConfig(&config.Config{Transport: config.TransportPresence, ServerURL: "ws://x"})
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if _, ok := tr.(*presence.Transport); !ok {
		t.Fatalf("presence config built %T", tr)
	}

	if _, err := NewFromConfig(&config.Config{Transport: "carrier-pigeon"}); err == nil {
		t.Fatalf("unknown transport accepted")
	}
}
