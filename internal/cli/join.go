package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkeye/MeshCall/internal/adapters/media"
	"github.com/dkeye/MeshCall/internal/adapters/rtc"
	"github.com/dkeye/MeshCall/internal/adapters/transport"
	"github.com/dkeye/MeshCall/internal/app/orch"
	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagRoom     string
	flagLoopback bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and stay until interrupted",
	Long: `Join a room and negotiate a peer connection with every participant in it.

Examples:
  meshcall join --room standup
  meshcall join --room standup --transport presence`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		room := domain.RoomID(flagRoom)
		if err := room.Validate(); err != nil {
			return err
		}
		return joinRoom(cmd.Context(), room)
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagRoom, "room", "", "room id to join")
	joinCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "gather loopback candidates, for peers on this host")
	_ = joinCmd.MarkFlagRequired("room")
}

func joinRoom(parent context.Context, room domain.RoomID) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	tr, err := transport.NewFromConfig(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()

	engines, err := rtc.NewFactory(rtc.Options{ICEServers: cfg.ICEServers, IncludeLoopback: flagLoopback})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	o := orch.New(tr, &media.SyntheticProvider{}, engines, printObserver{})
	if err := o.Join(ctx, room); err != nil {
		return fmt.Errorf("join %s: %w", room, err)
	}
	fmt.Printf("joined %s as %s\n", room, o.Self())

	<-ctx.Done()

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.Leave(leaveCtx); err != nil && !errors.Is(err, domain.ErrTransportUnavailable) {
		return err
	}
	fmt.Printf("left %s\n", room)
	return nil
}

type printObserver struct{}

func (printObserver) LinkConnected(remote domain.ParticipantID) {
	fmt.Printf("connected to %s\n", remote)
}

func (printObserver) LinkClosed(remote domain.ParticipantID, err error) {
	if err != nil {
		fmt.Printf("link to %s failed: %v\n", remote, err)
		return
	}
	fmt.Printf("link to %s closed\n", remote)
}

func (printObserver) RemoteTrack(remote domain.ParticipantID, track *webrtc.TrackRemote) {
	log.Info().Str("module", "cli").Str("remote", string(remote)).Str("kind", track.Kind().String()).Msg("remote track")
	go drain(track)
}

// drain keeps reading so the remote track's buffers do not fill up.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
