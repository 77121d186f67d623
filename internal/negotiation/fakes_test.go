package negotiation

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/webcast/internal/signaling"
)

// Compile-time interface checks.
var (
	_ Engine    = (*fakeEngine)(nil)
	_ Transport = (*fakeTransport)(nil)
)

const localOffer = "v=0\r\no=- 1 1 IN IP4 0.0.0.0\r\ns=local\r\n"

// fakeEngine records every call the Coordinator makes. Tests fire the
// registered callbacks directly, the way pion fires them from its own
// goroutines.
type fakeEngine struct {
	mu sync.Mutex

	started     int
	closed      int
	local       []signaling.SessionDescription
	remote      []signaling.SessionDescription
	candidates  []signaling.ICECandidate
	offerGate   chan struct{} // when non-nil, CreateOffer waits for it
	offerErr    error
	remoteGate  chan struct{} // when non-nil, SetRemoteDescription waits for it
	remoteErr   error
	closeHook   func() // runs inside Close, like pion firing callbacks on shutdown
	onNeg       func()
	onCandidate func(signaling.ICECandidate)
	onICEState  func(ICEConnectionState)
}

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started++
	return nil
}

func (e *fakeEngine) CreateOffer() (signaling.SessionDescription, error) {
	e.mu.Lock()
	gate, err := e.offerGate, e.offerErr
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	return signaling.SessionDescription{Type: signaling.SDPTypeOffer, SDP: localOffer}, nil
}

func (e *fakeEngine) SetLocalDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.local = append(e.local, desc)
	return nil
}

func (e *fakeEngine) SetRemoteDescription(desc signaling.SessionDescription) error {
	e.mu.Lock()
	e.remote = append(e.remote, desc)
	gate, err := e.remoteGate, e.remoteErr
	e.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (e *fakeEngine) AddICECandidate(c signaling.ICECandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *fakeEngine) OnNegotiationNeeded(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onNeg = fn
}

func (e *fakeEngine) OnICECandidate(fn func(signaling.ICECandidate)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCandidate = fn
}

func (e *fakeEngine) OnICEConnectionStateChange(fn func(ICEConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICEState = fn
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	e.closed++
	hook := e.closeHook
	e.mu.Unlock()

	if hook != nil {
		hook()
	}
	return nil
}

func (e *fakeEngine) negotiationNeeded() {
	e.mu.Lock()
	fn := e.onNeg
	e.mu.Unlock()
	fn()
}

func (e *fakeEngine) localCandidate(c signaling.ICECandidate) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	fn(c)
}

func (e *fakeEngine) iceState(s ICEConnectionState) {
	e.mu.Lock()
	fn := e.onICEState
	e.mu.Unlock()
	fn(s)
}

func (e *fakeEngine) remoteDescriptions() []signaling.SessionDescription {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signaling.SessionDescription(nil), e.remote...)
}

func (e *fakeEngine) remoteCandidates() []signaling.ICECandidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signaling.ICECandidate(nil), e.candidates...)
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

func (e *fakeEngine) closeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// fakeTransport is an in-memory signaling channel.
type fakeTransport struct {
	mu     sync.Mutex
	sent   []string
	closed bool

	incoming chan string
	done     chan struct{}
	doneOnce sync.Once
	err      error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		incoming: make(chan string, 64),
		done:     make(chan struct{}),
	}
}

func (t *fakeTransport) Send(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("closed")
	}
	t.sent = append(t.sent, text)
	return nil
}

func (t *fakeTransport) Incoming() <-chan string { return t.incoming }
func (t *fakeTransport) Done() <-chan struct{}   { return t.done }

func (t *fakeTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// deliver simulates a frame from the relay.
func (t *fakeTransport) deliver(text string) { t.incoming <- text }

// hangUp simulates the relay dropping the connection.
func (t *fakeTransport) hangUp(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *fakeTransport) messages() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func dialer(t Transport) DialFunc {
	return func(context.Context, string) (Transport, error) { return t, nil }
}
