// Package relay is a minimal signaling relay speaking the HELLO / SESSION
// protocol: peers register under an id, one peer asks for a session with
// another, and from then on every text frame is forwarded to the partner.
package relay

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lucsky/cuid"

	"github.com/1ureka/webcast/internal/signaling"
	"github.com/1ureka/webcast/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server relays signaling messages between registered peers.
type Server struct {
	listener net.Listener
	http     *http.Server

	mu    sync.Mutex
	peers map[string]*peer // keyed by registered id
	conns map[*peer]struct{}
}

// peer is one WebSocket client of the relay.
type peer struct {
	connID string // relay-local id for logs
	id     string // id announced with HELLO, empty until registered
	ws     *websocket.Conn

	wmu     sync.Mutex
	partner *peer // guarded by Server.mu
}

func (p *peer) send(msg signaling.Message) error {
	text, err := signaling.Encode(msg)
	if err != nil {
		return err
	}
	return p.sendText(text)
}

func (p *peer) sendText(text string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return p.ws.WriteMessage(websocket.TextMessage, []byte(text))
}

// NewServer creates an idle relay.
func NewServer() *Server {
	return &Server{
		peers: make(map[string]*peer),
		conns: make(map[*peer]struct{}),
	}
}

// Start begins listening on addr (":0" picks a random port) and returns the
// bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	mux.HandleFunc("/ws", s.handleWS)

	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Close shuts down the listener and drops every connected peer.
func (s *Server) Close() {
	if s.http != nil {
		s.http.Close()
	}

	s.mu.Lock()
	conns := make([]*peer, 0, len(s.conns))
	for p := range s.conns {
		conns = append(conns, p)
	}
	s.mu.Unlock()

	for _, p := range conns {
		p.ws.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	p := &peer{connID: cuid.New(), ws: ws}

	s.mu.Lock()
	s.conns[p] = struct{}{}
	s.mu.Unlock()

	util.LogDebug("[relay %s] connected from %s", p.connID, r.RemoteAddr)

	s.serve(p)
	s.drop(p)
}

// serve runs the read loop of one peer until it disconnects or misbehaves.
func (s *Server) serve(p *peer) {
	for {
		typ, data, err := p.ws.ReadMessage()
		if err != nil {
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		text := string(data)

		if partner := s.partnerOf(p); partner != nil {
			if err := partner.sendText(text); err != nil {
				util.LogDebug("[relay %s] forward failed: %v", p.connID, err)
			}
			continue
		}

		msg, err := signaling.Decode(text)
		if err != nil {
			p.send(signaling.RelayError("unexpected message before session"))
			continue
		}

		switch msg.Kind {
		case signaling.KindHello:
			if err := s.register(p, msg.ID); err != nil {
				p.send(signaling.RelayError(err.Error()))
				return
			}
			p.send(signaling.Hello(""))

		case signaling.KindSessionRequest:
			if err := s.pair(p, msg.PeerID); err != nil {
				p.send(signaling.RelayError(err.Error()))
				continue
			}
			p.send(signaling.SessionOK())

		default:
			p.send(signaling.RelayError("unexpected message before session"))
		}
	}
}

func (s *Server) register(p *peer, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" || p.id != "" {
		return errors.New("invalid peer uid")
	}
	if _, taken := s.peers[id]; taken {
		return errors.New("invalid peer uid")
	}

	p.id = id
	s.peers[id] = p
	util.LogDebug("[relay %s] registered as %q", p.connID, id)
	return nil
}

func (s *Server) pair(p *peer, peerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.id == "" {
		return errors.New("not registered")
	}
	other, ok := s.peers[peerID]
	if !ok || other == p {
		return fmt.Errorf("peer '%s' not found", peerID)
	}
	if other.partner != nil || p.partner != nil {
		return fmt.Errorf("peer '%s' busy", peerID)
	}

	p.partner = other
	other.partner = p
	util.LogDebug("[relay] session %q <-> %q", p.id, other.id)
	return nil
}

func (s *Server) partnerOf(p *peer) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.partner
}

// drop forgets p and tears down its session, closing the partner as well.
func (s *Server) drop(p *peer) {
	s.mu.Lock()
	delete(s.conns, p)
	if p.id != "" && s.peers[p.id] == p {
		delete(s.peers, p.id)
	}
	partner := p.partner
	if partner != nil {
		partner.partner = nil
		p.partner = nil
	}
	s.mu.Unlock()

	p.ws.Close()
	if partner != nil {
		partner.ws.Close()
	}
	util.LogDebug("[relay %s] disconnected", p.connID)
}
