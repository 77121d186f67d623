// Package negotiation drives a single outbound WebRTC session through the
// signaling relay: registration, the SDP offer/answer exchange and ICE
// candidate trickling in both directions.
package negotiation

import (
	"context"
	"errors"

	"github.com/1ureka/webcast/internal/signaling"
)

var (
	// ErrTransport is returned by Run when the signaling connection fails.
	ErrTransport = errors.New("transport error")
	// ErrNegotiation is returned by Run when the media engine rejects a
	// description or the remote peer breaks the offer/answer order.
	ErrNegotiation = errors.New("negotiation error")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAwaitingTransport
	StateRegistered
	StateOfferSent
	StateConnected
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingTransport:
		return "awaiting-transport"
	case StateRegistered:
		return "registered"
	case StateOfferSent:
		return "offer-sent"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ICEConnectionState mirrors the ICE agent's connection state.
type ICEConnectionState int

const (
	ICEConnectionStateNew ICEConnectionState = iota + 1
	ICEConnectionStateChecking
	ICEConnectionStateConnected
	ICEConnectionStateCompleted
	ICEConnectionStateFailed
	ICEConnectionStateDisconnected
	ICEConnectionStateClosed
)

func (s ICEConnectionState) String() string {
	switch s {
	case ICEConnectionStateNew:
		return "new"
	case ICEConnectionStateChecking:
		return "checking"
	case ICEConnectionStateConnected:
		return "connected"
	case ICEConnectionStateCompleted:
		return "completed"
	case ICEConnectionStateFailed:
		return "failed"
	case ICEConnectionStateDisconnected:
		return "disconnected"
	case ICEConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Engine is the media engine the Coordinator negotiates on behalf of.
// Callbacks may fire on any goroutine.
type Engine interface {
	// Start attaches the local media; the engine is expected to signal
	// negotiation-needed afterwards.
	Start() error

	CreateOffer() (signaling.SessionDescription, error)
	SetLocalDescription(desc signaling.SessionDescription) error
	SetRemoteDescription(desc signaling.SessionDescription) error
	AddICECandidate(c signaling.ICECandidate) error

	OnNegotiationNeeded(fn func())
	OnICECandidate(fn func(signaling.ICECandidate))
	OnICEConnectionStateChange(fn func(ICEConnectionState))

	Close() error
}

// Transport is a connected signaling channel. Incoming delivers text frames
// in arrival order; Done closes when the channel ends and Err reports why.
type Transport interface {
	Send(text string) error
	Incoming() <-chan string
	Done() <-chan struct{}
	Err() error
	Close() error
}

// DialFunc opens the signaling Transport.
type DialFunc func(ctx context.Context, url string) (Transport, error)

// Dial connects to a signaling relay over WebSocket.
func Dial(ctx context.Context, url string) (Transport, error) {
	conn, err := signaling.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Config identifies this client and its remote peer on the relay.
type Config struct {
	URL      string
	ClientID string
	PeerID   string
}

// Session is a point-in-time view of the negotiation.
type Session struct {
	State             State
	LocalDescription  *signaling.SessionDescription
	RemoteDescription *signaling.SessionDescription
	PendingCandidates int
}
