package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

func TestSyntheticProvider_AcquireRelease(t *testing.T) {
	src, err := (&SyntheticProvider{Label: "t"}).Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tracks := src.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != webrtc.RTPCodecTypeAudio {
		t.Fatalf("tracks=%v", tracks)
	}
	if tracks[0].ID() != "audio-t" || tracks[0].StreamID() != "stream-t" {
		t.Fatalf("track id=%s stream=%s", tracks[0].ID(), tracks[0].StreamID())
	}

	src.Release()
	src.Release()
	select {
	case <-src.(*SyntheticSource).Done():
	case <-time.After(time.Second):
		t.Fatalf("pump still running after release")
	}
}

func TestSyntheticProvider_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (&SyntheticProvider{}).Acquire(ctx); !errors.Is(err, domain.ErrMediaUnavailable) {
		t.Fatalf("err=%v, want ErrMediaUnavailable", err)
	}
}
