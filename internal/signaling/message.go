// Package signaling implements the text protocol spoken with the signaling
// relay: the message codec and the WebSocket connection carrying it.
package signaling

// Kind identifies the payload carried by a Message.
type Kind int

const (
	KindHello          Kind = iota + 1 // HELLO [id]
	KindSessionRequest                 // SESSION <peer>
	KindSessionOK                      // SESSION_OK
	KindRelayError                     // ERROR <reason>
	KindSDP                            // {"sdp": {...}}
	KindICE                            // {"ice": {...}}
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindSessionRequest:
		return "session-request"
	case KindSessionOK:
		return "session-ok"
	case KindRelayError:
		return "relay-error"
	case KindSDP:
		return "sdp"
	case KindICE:
		return "ice"
	default:
		return "unknown"
	}
}

// SDPType is the role of a session description in the offer/answer exchange.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an SDP blob tagged with its role. It is exchanged
// verbatim and never modified.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// ICECandidate is a trickled ICE candidate bound to an m-line.
type ICECandidate struct {
	SDPMLineIndex uint16
	Candidate     string
}

// Message is a single signaling message. Only the field matching Kind is
// meaningful.
type Message struct {
	Kind Kind

	ID     string // KindHello
	PeerID string // KindSessionRequest
	Reason string // KindRelayError

	Description SessionDescription // KindSDP
	Candidate   ICECandidate       // KindICE
}

// Hello returns the registration message for id.
func Hello(id string) Message { return Message{Kind: KindHello, ID: id} }

// SessionRequest returns the message asking the relay to pair with peerID.
func SessionRequest(peerID string) Message { return Message{Kind: KindSessionRequest, PeerID: peerID} }

// SessionOK returns the relay's pairing acknowledgement.
func SessionOK() Message { return Message{Kind: KindSessionOK} }

// RelayError returns a relay error reply.
func RelayError(reason string) Message { return Message{Kind: KindRelayError, Reason: reason} }

// SDP wraps a session description.
func SDP(desc SessionDescription) Message { return Message{Kind: KindSDP, Description: desc} }

// ICE wraps an ICE candidate.
func ICE(c ICECandidate) Message { return Message{Kind: KindICE, Candidate: c} }
