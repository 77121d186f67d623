package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gammazero/deque"

	"github.com/1ureka/webcast/internal/signaling"
	"github.com/1ureka/webcast/internal/util"
)

// eventKind enumerates what the loop reacts to besides inbound messages.
type eventKind int

const (
	evNegotiationNeeded eventKind = iota + 1
	evLocalCandidate
	evICEStateChanged
	evOfferReady           // offer created and installed as local description
	evRemoteDescriptionSet // answer installed (or rejected) as remote description
)

type event struct {
	kind      eventKind
	desc      signaling.SessionDescription
	candidate signaling.ICECandidate
	iceState  ICEConnectionState
	err       error
}

// Coordinator owns the single session. All session state is mutated from
// the goroutine running Run; engine callbacks and engine calls that take
// time only post events back to it.
type Coordinator struct {
	cfg    Config
	dial   DialFunc
	engine Engine

	events chan event
	stop   chan struct{}

	// loop-owned
	conn           Transport
	pending        deque.Deque[signaling.ICECandidate] // remote, before the answer is installed
	outbox         []signaling.ICECandidate            // local, before the offer is sent
	offerInFlight  bool
	answerInFlight bool

	mu      sync.RWMutex
	state   State
	local   *signaling.SessionDescription
	remote  *signaling.SessionDescription
	started bool
}

// New creates a Coordinator. Run starts it.
func New(cfg Config, dial DialFunc, engine Engine) *Coordinator {
	return &Coordinator{
		cfg:    cfg,
		dial:   dial,
		engine: engine,
		events: make(chan event, 16),
		stop:   make(chan struct{}),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Session returns a snapshot of the session. Safe for concurrent use.
func (c *Coordinator) Session() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Session{
		State:             c.state,
		LocalDescription:  c.local,
		RemoteDescription: c.remote,
		PendingCandidates: c.pendingLen(),
	}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev != s {
		util.LogDebug("session state: %s → %s", prev, s)
	}
}

// Run executes the session until it terminates or fails. It returns nil
// after a clean termination (peer closed the signaling channel once
// connected, or ctx cancelled) and an error wrapping ErrTransport or
// ErrNegotiation otherwise. Run may only be called once.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("negotiation: coordinator already started")
	}
	c.started = true
	c.mu.Unlock()

	c.engine.OnNegotiationNeeded(func() {
		c.post(event{kind: evNegotiationNeeded})
	})
	c.engine.OnICECandidate(func(cand signaling.ICECandidate) {
		c.post(event{kind: evLocalCandidate, candidate: cand})
	})
	c.engine.OnICEConnectionStateChange(func(s ICEConnectionState) {
		c.post(event{kind: evICEStateChanged, iceState: s})
	})

	// 1. Connect to the relay.
	c.setState(StateAwaitingTransport)
	util.LogInfo("connecting to signaling server at %s", c.cfg.URL)

	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		if ctx.Err() != nil {
			return c.terminate()
		}
		return c.fail(fmt.Errorf("%w: %w", ErrTransport, err))
	}
	c.conn = conn
	util.LogSuccess("connected to signaling server")

	// 2. Register and ask for a session with the peer.
	if err := c.send(signaling.Hello(c.cfg.ClientID)); err != nil {
		return c.fail(err)
	}
	if err := c.send(signaling.SessionRequest(c.cfg.PeerID)); err != nil {
		return c.fail(err)
	}
	c.setState(StateRegistered)

	// 3. Attach media; negotiation-needed follows.
	if err := c.engine.Start(); err != nil {
		return c.fail(fmt.Errorf("%w: start media engine: %w", ErrNegotiation, err))
	}

	// 4. Event loop.
	for {
		select {
		case <-ctx.Done():
			return c.terminate()

		case text := <-conn.Incoming():
			if err := c.handleMessage(text); err != nil {
				return c.fail(err)
			}

		case <-conn.Done():
			// Deliver whatever the reader queued before it stopped.
			for drained := false; !drained; {
				select {
				case text := <-conn.Incoming():
					if err := c.handleMessage(text); err != nil {
						return c.fail(err)
					}
				default:
					drained = true
				}
			}
			return c.closed(conn.Err())

		case ev := <-c.events:
			if err := c.handleEvent(ev); err != nil {
				return c.fail(err)
			}
		}
	}
}

// post hands an event to the loop, giving up once Run has returned.
func (c *Coordinator) post(ev event) {
	select {
	case c.events <- ev:
	case <-c.stop:
	}
}

func (c *Coordinator) send(msg signaling.Message) error {
	text, err := signaling.Encode(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNegotiation, err)
	}
	if err := c.conn.Send(text); err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	util.Stats.AddSent()
	util.LogDebug("→ %s", msg.Kind)
	return nil
}

// ---------------------------------------------------------------------------
// Inbound messages
// ---------------------------------------------------------------------------

func (c *Coordinator) handleMessage(text string) error {
	util.Stats.AddRecv()

	msg, err := signaling.Decode(text)
	if err != nil {
		var de *signaling.DecodeError
		if errors.As(err, &de) && de.Envelope == "sdp" && de.Reason == signaling.ReasonMissingField {
			return fmt.Errorf("%w: %w", ErrNegotiation, err)
		}
		util.Stats.AddDropped()
		util.LogWarning("dropping signaling message: %v", err)
		return nil
	}
	util.LogDebug("← %s", msg.Kind)

	switch msg.Kind {
	case signaling.KindHello:
		util.LogDebug("relay acknowledged registration")
	case signaling.KindSessionOK:
		util.LogInfo("relay session with %q established", c.cfg.PeerID)
	case signaling.KindRelayError:
		return fmt.Errorf("%w: relay refused: %s", ErrTransport, msg.Reason)
	case signaling.KindSDP:
		return c.handleDescription(msg.Description)
	case signaling.KindICE:
		c.handleRemoteCandidate(msg.Candidate)
	default:
		util.Stats.AddDropped()
		util.LogWarning("dropping unexpected %s message", msg.Kind)
	}
	return nil
}

func (c *Coordinator) handleDescription(desc signaling.SessionDescription) error {
	state := c.State()

	if desc.Type == signaling.SDPTypeOffer {
		return fmt.Errorf("%w: unexpected remote offer in state %s", ErrNegotiation, state)
	}

	if c.answerInFlight || state == StateConnected {
		util.LogWarning("ignoring duplicate SDP answer")
		return nil
	}
	if state != StateOfferSent {
		return fmt.Errorf("%w: answer received in state %s without an outstanding offer", ErrNegotiation, state)
	}

	util.LogInfo("received SDP answer, setting remote description")
	c.answerInFlight = true
	go func() {
		err := c.engine.SetRemoteDescription(desc)
		c.post(event{kind: evRemoteDescriptionSet, desc: desc, err: err})
	}()
	return nil
}

func (c *Coordinator) handleRemoteCandidate(cand signaling.ICECandidate) {
	c.mu.RLock()
	haveRemote := c.remote != nil
	c.mu.RUnlock()

	if !haveRemote {
		c.mu.Lock()
		c.pending.PushBack(cand)
		c.mu.Unlock()
		util.LogDebug("buffered remote ICE candidate (mline=%d) until the answer is set", cand.SDPMLineIndex)
		return
	}
	c.applyCandidate(cand)
}

func (c *Coordinator) applyCandidate(cand signaling.ICECandidate) {
	util.Stats.AddRemoteCandidate()
	if err := c.engine.AddICECandidate(cand); err != nil {
		util.LogWarning("failed to add ICE candidate (mline=%d): %v", cand.SDPMLineIndex, err)
		return
	}
	util.LogDebug("added remote ICE candidate (mline=%d)", cand.SDPMLineIndex)
}

// ---------------------------------------------------------------------------
// Engine events
// ---------------------------------------------------------------------------

func (c *Coordinator) handleEvent(ev event) error {
	switch ev.kind {
	case evNegotiationNeeded:
		if c.offerInFlight || c.State() != StateRegistered {
			util.LogWarning("ignoring negotiation-needed in state %s", c.State())
			return nil
		}
		util.LogInfo("negotiation needed, creating offer")
		c.offerInFlight = true
		go func() {
			offer, err := c.engine.CreateOffer()
			if err == nil {
				err = c.engine.SetLocalDescription(offer)
			}
			c.post(event{kind: evOfferReady, desc: offer, err: err})
		}()

	case evOfferReady:
		c.offerInFlight = false
		if ev.err != nil {
			return fmt.Errorf("%w: create offer: %w", ErrNegotiation, ev.err)
		}
		desc := ev.desc

		if err := c.send(signaling.SDP(desc)); err != nil {
			return err
		}
		c.mu.Lock()
		c.local = &desc
		c.mu.Unlock()
		c.setState(StateOfferSent)
		util.LogInfo("sent SDP offer")

		for _, cand := range c.outbox {
			if err := c.sendCandidate(cand); err != nil {
				return err
			}
		}
		c.outbox = nil

	case evLocalCandidate:
		c.mu.RLock()
		offerSent := c.local != nil
		c.mu.RUnlock()

		if !offerSent {
			c.outbox = append(c.outbox, ev.candidate)
			return nil
		}
		return c.sendCandidate(ev.candidate)

	case evRemoteDescriptionSet:
		c.answerInFlight = false
		if ev.err != nil {
			return fmt.Errorf("%w: set remote description: %w", ErrNegotiation, ev.err)
		}
		desc := ev.desc

		c.mu.Lock()
		c.remote = &desc
		c.mu.Unlock()
		c.setState(StateConnected)
		util.LogSuccess("SDP answer set, session negotiated")

		for {
			c.mu.Lock()
			if c.pending.Len() == 0 {
				c.mu.Unlock()
				break
			}
			cand := c.pending.PopFront()
			c.mu.Unlock()
			c.applyCandidate(cand)
		}

	case evICEStateChanged:
		switch ev.iceState {
		case ICEConnectionStateConnected, ICEConnectionStateCompleted:
			util.LogSuccess("P2P connection established (ICE %s)", ev.iceState)
		case ICEConnectionStateFailed, ICEConnectionStateDisconnected:
			util.LogWarning("ICE connection state: %s", ev.iceState)
		default:
			util.LogDebug("ICE connection state: %s", ev.iceState)
		}
	}
	return nil
}

func (c *Coordinator) sendCandidate(cand signaling.ICECandidate) error {
	if err := c.send(signaling.ICE(cand)); err != nil {
		return err
	}
	util.Stats.AddLocalCandidate()
	return nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// closed handles the end of the signaling channel.
func (c *Coordinator) closed(cause error) error {
	if c.State() == StateConnected {
		util.LogInfo("signaling connection closed")
		return c.terminate()
	}
	if cause == nil {
		cause = errors.New("connection closed")
	}
	return c.fail(fmt.Errorf("%w: %w", ErrTransport, cause))
}

func (c *Coordinator) terminate() error {
	c.setState(StateTerminated)
	c.release()
	return nil
}

func (c *Coordinator) fail(err error) error {
	c.setState(StateFailed)
	c.release()
	return err
}

// release stops event delivery, then closes the transport and the engine.
// Callbacks fired while the engine shuts down are discarded.
func (c *Coordinator) release() {
	close(c.stop)

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			util.LogDebug("close signaling connection: %v", err)
		}
	}
	if err := c.engine.Close(); err != nil {
		util.LogDebug("close media engine: %v", err)
	}
}

func (c *Coordinator) pendingLen() int {
	return c.pending.Len()
}
