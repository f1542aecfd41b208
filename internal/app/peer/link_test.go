package peer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/MeshCall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type fakeEngine struct {
	mu          sync.Mutex
	offer       []byte
	answer      []byte
	offerErr    error
	answerErr   error
	block       chan struct{}
	gotOffer    []byte
	gotAnswer   []byte
	candidates  int
	closed      int
	onConnected func()
	onFailed    func(error)
}

func (e *fakeEngine) CreateOffer(ctx context.Context) ([]byte, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.offer, e.offerErr
}

func (e *fakeEngine) AcceptOffer(ctx context.Context, offer []byte) ([]byte, error) {
	e.mu.Lock()
	e.gotOffer = offer
	e.mu.Unlock()
	return e.answer, nil
}

func (e *fakeEngine) AcceptAnswer(answer []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gotAnswer = answer
	return e.answerErr
}

func (e *fakeEngine) AddCandidate([]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates++
	return nil
}

func (e *fakeEngine) OnConnected(fn func())             { e.onConnected = fn }
func (e *fakeEngine) OnFailed(fn func(error))           { e.onFailed = fn }
func (e *fakeEngine) OnTrack(func(*webrtc.TrackRemote)) {}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

type description struct {
	typ     domain.MessageType
	payload string
}

type fakeObserver struct {
	descriptions []description
	connected    int
	closed       int
	closeErr     error
}

func (o *fakeObserver) LocalDescription(_ *Link, typ domain.MessageType, payload []byte) {
	o.descriptions = append(o.descriptions, description{typ, string(payload)})
}
func (o *fakeObserver) Connected(*Link)                        { o.connected++ }
func (o *fakeObserver) RemoteTrack(*Link, *webrtc.TrackRemote) {}

func (o *fakeObserver) Closed(_ *Link, err error) {
	o.closed++
	o.closeErr = err
}

// loop stands in for the owner's event loop.
type loop chan func()

func (l loop) post(fn func()) { l <- fn }

func (l loop) runOne(t *testing.T) {
	t.Helper()
	select {
	case fn := <-l:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatalf("no event posted")
	}
}

func (l loop) idle(t *testing.T) {
	t.Helper()
	select {
	case <-l:
		t.Fatalf("unexpected event posted")
	case <-time.After(50 * time.Millisecond):
	}
}

func newLink(role domain.Role, e *fakeEngine) (*Link, *fakeObserver, loop) {
	obs := &fakeObserver{}
	q := make(loop, 16)
	return New("remote", role, e, q.post, obs), obs, q
}

func TestLink_InitiatorHappyPath(t *testing.T) {
	e := &fakeEngine{offer: []byte("offer-sdp")}
	l, obs, q := newLink(domain.RoleInitiator, e)

	if l.State() != domain.LinkIdle {
		t.Fatalf("state=%s, want idle", l.State())
	}
	l.Start()
	if l.State() != domain.LinkNegotiating {
		t.Fatalf("state=%s, want negotiating", l.State())
	}
	q.runOne(t)
	if len(obs.descriptions) != 1 || obs.descriptions[0] != (description{domain.MsgOffer, "offer-sdp"}) {
		t.Fatalf("descriptions=%v", obs.descriptions)
	}

	l.HandleAnswer([]byte("answer-sdp"))
	if string(e.gotAnswer) != "answer-sdp" {
		t.Fatalf("engine answer=%q", e.gotAnswer)
	}

	e.onConnected()
	q.runOne(t)
	if l.State() != domain.LinkConnected || obs.connected != 1 {
		t.Fatalf("state=%s connected=%d", l.State(), obs.connected)
	}
}

func TestLink_ResponderAnswersOnce(t *testing.T) {
	e := &fakeEngine{answer: []byte("answer-sdp")}
	l, obs, q := newLink(domain.RoleResponder, e)

	l.Start()
	q.idle(t)

	l.HandleOffer([]byte("offer-sdp"))
	q.runOne(t)
	if len(obs.descriptions) != 1 || obs.descriptions[0] != (description{domain.MsgAnswer, "answer-sdp"}) {
		t.Fatalf("descriptions=%v", obs.descriptions)
	}
	if string(e.gotOffer) != "offer-sdp" {
		t.Fatalf("engine offer=%q", e.gotOffer)
	}

	l.HandleOffer([]byte("offer-again"))
	q.idle(t)
}

func TestLink_WrongRoleMessagesIgnored(t *testing.T) {
	e := &fakeEngine{offer: []byte("o")}
	ini, _, q := newLink(domain.RoleInitiator, e)
	ini.Start()
	q.runOne(t)
	ini.HandleOffer([]byte("glare"))
	q.idle(t)

	re := &fakeEngine{}
	resp, _, _ := newLink(domain.RoleResponder, re)
	resp.Start()
	resp.HandleAnswer([]byte("stray"))
	if re.gotAnswer != nil {
		t.Fatalf("responder applied an answer")
	}
}

func TestLink_MessagesBeforeStartIgnored(t *testing.T) {
	e := &fakeEngine{}
	l, _, q := newLink(domain.RoleResponder, e)
	l.HandleOffer([]byte("early"))
	q.idle(t)
	if l.State() != domain.LinkIdle {
		t.Fatalf("state=%s, want idle", l.State())
	}
}

func TestLink_OfferFailureClosesLink(t *testing.T) {
	e := &fakeEngine{offerErr: errors.New("no codecs")}
	l, obs, q := newLink(domain.RoleInitiator, e)
	l.Start()
	q.runOne(t)

	if l.State() != domain.LinkClosed {
		t.Fatalf("state=%s, want closed", l.State())
	}
	if !errors.Is(obs.closeErr, domain.ErrNegotiationFailed) {
		t.Fatalf("close err=%v, want ErrNegotiationFailed", obs.closeErr)
	}
	if e.closed != 1 || len(obs.descriptions) != 0 {
		t.Fatalf("engine closed=%d descriptions=%v", e.closed, obs.descriptions)
	}
}

func TestLink_BadAnswerClosesLink(t *testing.T) {
	e := &fakeEngine{offer: []byte("o"), answerErr: errors.New("bad sdp")}
	l, obs, q := newLink(domain.RoleInitiator, e)
	l.Start()
	q.runOne(t)
	l.HandleAnswer([]byte("garbage"))

	if l.State() != domain.LinkClosed || !errors.Is(obs.closeErr, domain.ErrNegotiationFailed) {
		t.Fatalf("state=%s err=%v", l.State(), obs.closeErr)
	}
}

func TestLink_FailureAfterConnect(t *testing.T) {
	e := &fakeEngine{offer: []byte("o")}
	l, obs, q := newLink(domain.RoleInitiator, e)
	l.Start()
	q.runOne(t)
	e.onConnected()
	q.runOne(t)

	e.onFailed(errors.New("ice failed"))
	q.runOne(t)
	if l.State() != domain.LinkClosed || !errors.Is(obs.closeErr, domain.ErrNegotiationFailed) {
		t.Fatalf("state=%s err=%v", l.State(), obs.closeErr)
	}
}

func TestLink_CloseIsIdempotent(t *testing.T) {
	e := &fakeEngine{}
	l, obs, _ := newLink(domain.RoleResponder, e)
	l.Start()
	l.Close()
	l.Close()

	if obs.closed != 1 || e.closed != 1 {
		t.Fatalf("observer closed=%d engine closed=%d", obs.closed, e.closed)
	}
	if obs.closeErr != nil {
		t.Fatalf("graceful close err=%v", obs.closeErr)
	}
	l.HandleCandidate([]byte("c"))
	if e.candidates != 0 {
		t.Fatalf("candidate applied after close")
	}
}

func TestLink_DescriptionAfterCloseDiscarded(t *testing.T) {
	e := &fakeEngine{offer: []byte("late"), block: make(chan struct{})}
	l, obs, q := newLink(domain.RoleInitiator, e)
	l.Start()
	l.Close()
	q.runOne(t)

	if len(obs.descriptions) != 0 {
		t.Fatalf("descriptions=%v after close", obs.descriptions)
	}
	if obs.closed != 1 {
		t.Fatalf("closed=%d, want 1", obs.closed)
	}
}

func TestLink_Info(t *testing.T) {
	l, _, _ := newLink(domain.RoleResponder, &fakeEngine{})
	info := l.Info()
	if info.Remote != "remote" || info.Role != domain.RoleResponder || info.State != domain.LinkIdle {
		t.Fatalf("info=%+v", info)
	}
}
