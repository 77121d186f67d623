// Package media implements the negotiation engine on top of a pion
// PeerConnection carrying one send-only video track, and streams encoded
// frames from disk into that track.
package media

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/webcast/internal/negotiation"
	"github.com/1ureka/webcast/internal/signaling"
	"github.com/1ureka/webcast/internal/util"
)

// Config configures the PeerConnection.
type Config struct {
	STUNServers []string
	ICEPortMin  uint16
	ICEPortMax  uint16
	Codec       string // h264, vp8, vp9 or av1
}

var mimeTypes = map[string]string{
	"h264": webrtc.MimeTypeH264,
	"vp8":  webrtc.MimeTypeVP8,
	"vp9":  webrtc.MimeTypeVP9,
	"av1":  webrtc.MimeTypeAV1,
}

// Compile-time interface check.
var _ negotiation.Engine = (*Engine)(nil)

// Engine wraps a single PeerConnection and its outgoing video track.
//
// Its ICE connection state is recorded for Connected and Close; the
// Coordinator gets the same transitions through OnICEConnectionStateChange.
type Engine struct {
	pc    *webrtc.PeerConnection
	track *webrtc.TrackLocalStaticSample

	connected     chan struct{}
	connectedOnce sync.Once
	closeOnce     sync.Once

	mu         sync.RWMutex
	iceState   webrtc.ICEConnectionState
	onICEState func(negotiation.ICEConnectionState)
}

// NewEngine creates the PeerConnection and the video track. Nothing is
// negotiated until Start.
func NewEngine(cfg Config) (*Engine, error) {
	mime, ok := mimeTypes[strings.ToLower(cfg.Codec)]
	if !ok {
		return nil, fmt.Errorf("unsupported video codec %q", cfg.Codec)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := webrtc.SettingEngine{LoggerFactory: util.PionLoggerFactory{}}
	if cfg.ICEPortMin != 0 || cfg.ICEPortMax != 0 {
		if err := s.SetEphemeralUDPPortRange(cfg.ICEPortMin, cfg.ICEPortMax); err != nil {
			return nil, fmt.Errorf("ICE port range: %w", err)
		}
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(s),
	)

	config := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, "video", "webcast")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}

	e := &Engine{
		pc:        pc,
		track:     track,
		connected: make(chan struct{}),
		iceState:  webrtc.ICEConnectionStateNew,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		e.mu.Lock()
		e.iceState = state
		fn := e.onICEState
		e.mu.Unlock()

		if state == webrtc.ICEConnectionStateConnected || state == webrtc.ICEConnectionStateCompleted {
			e.connectedOnce.Do(func() { close(e.connected) })
		}
		if fn != nil {
			fn(iceState(state))
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
	})

	return e, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Start adds the video track as a send-only transceiver, which makes pion
// fire negotiation-needed.
func (e *Engine) Start() error {
	transceiver, err := e.pc.AddTransceiverFromTrack(e.track, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendonly,
	})
	if err != nil {
		return fmt.Errorf("add video transceiver: %w", err)
	}

	// Drain RTCP so the interceptors (NACK, reports) keep working.
	sender := transceiver.Sender()
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return nil
}

// Track returns the outgoing video track.
func (e *Engine) Track() *webrtc.TrackLocalStaticSample { return e.track }

// Connected returns a channel that is closed once ICE first reaches the
// connected or completed state.
func (e *Engine) Connected() <-chan struct{} { return e.connected }

// currentICEState returns the last observed ICE connection state.
func (e *Engine) currentICEState() webrtc.ICEConnectionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.iceState
}

// Close shuts down the PeerConnection. Safe to call multiple times.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		util.LogDebug("closing PeerConnection (ICE %s)", e.currentICEState())
		err = e.pc.Close()
	})
	return err
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (e *Engine) CreateOffer() (signaling.SessionDescription, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return signaling.SessionDescription{}, err
	}
	return fromPion(offer), nil
}

// SetLocalDescription applies the local SDP and starts candidate gathering.
func (e *Engine) SetLocalDescription(desc signaling.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	return e.pc.SetLocalDescription(sd)
}

// SetRemoteDescription applies the remote SDP.
func (e *Engine) SetRemoteDescription(desc signaling.SessionDescription) error {
	sd, err := toPion(desc)
	if err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(sd)
}

// AddICECandidate adds a remote ICE candidate received through signaling.
func (e *Engine) AddICECandidate(c signaling.ICECandidate) error {
	idx := c.SDPMLineIndex
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: &idx,
	})
}

// OnNegotiationNeeded registers the negotiation-needed callback.
func (e *Engine) OnNegotiationNeeded(fn func()) {
	e.pc.OnNegotiationNeeded(fn)
}

// OnICECandidate registers a callback invoked for every gathered local
// candidate. The end-of-gathering nil candidate is not forwarded.
func (e *Engine) OnICECandidate(fn func(signaling.ICECandidate)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			util.LogDebug("ICE gathering complete")
			return
		}
		fn(fromPionCandidate(c.ToJSON()))
	})
}

// OnICEConnectionStateChange registers the ICE state callback.
func (e *Engine) OnICEConnectionStateChange(fn func(negotiation.ICEConnectionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onICEState = fn
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func fromPion(sd webrtc.SessionDescription) signaling.SessionDescription {
	return signaling.SessionDescription{Type: signaling.SDPType(sd.Type.String()), SDP: sd.SDP}
}

func toPion(desc signaling.SessionDescription) (webrtc.SessionDescription, error) {
	switch desc.Type {
	case signaling.SDPTypeOffer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: desc.SDP}, nil
	case signaling.SDPTypeAnswer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: desc.SDP}, nil
	}
	return webrtc.SessionDescription{}, errors.New("unsupported description type " + string(desc.Type))
}

func fromPionCandidate(init webrtc.ICECandidateInit) signaling.ICECandidate {
	c := signaling.ICECandidate{Candidate: init.Candidate}
	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = *init.SDPMLineIndex
	}
	return c
}

func iceState(s webrtc.ICEConnectionState) negotiation.ICEConnectionState {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return negotiation.ICEConnectionStateNew
	case webrtc.ICEConnectionStateChecking:
		return negotiation.ICEConnectionStateChecking
	case webrtc.ICEConnectionStateConnected:
		return negotiation.ICEConnectionStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return negotiation.ICEConnectionStateCompleted
	case webrtc.ICEConnectionStateFailed:
		return negotiation.ICEConnectionStateFailed
	case webrtc.ICEConnectionStateDisconnected:
		return negotiation.ICEConnectionStateDisconnected
	case webrtc.ICEConnectionStateClosed:
		return negotiation.ICEConnectionStateClosed
	default:
		return 0
	}
}
