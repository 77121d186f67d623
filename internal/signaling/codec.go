package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Control keywords of the plain-text part of the protocol.
const (
	keywordHello     = "HELLO"
	keywordSession   = "SESSION"
	keywordSessionOK = "SESSION_OK"
	keywordError     = "ERROR"
)

// ErrDecode matches every *DecodeError via errors.Is.
var ErrDecode = errors.New("signaling: decode error")

// Reason classifies a DecodeError.
type Reason int

const (
	ReasonMalformed    Reason = iota + 1 // not parseable as any known shape
	ReasonMissingField                   // a required field is absent or has the wrong type
	ReasonUnrecognized                   // well-formed but not a message this protocol knows
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformed:
		return "malformed"
	case ReasonMissingField:
		return "missing field"
	case ReasonUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Decode. Envelope is the JSON envelope key
// ("sdp" or "ice") when the failure happened inside one.
type DecodeError struct {
	Reason   Reason
	Envelope string
	Field    string
	Err      error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode: ")
	b.WriteString(e.Reason.String())
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
func (e *DecodeError) Unwrap() error        { return e.Err }

type sdpBody struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type sdpEnvelope struct {
	SDP sdpBody `json:"sdp"`
}

type iceBody struct {
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

type iceEnvelope struct {
	ICE iceBody `json:"ice"`
}

// Decode parses one text frame received from the relay. It never panics;
// every failure is reported as a *DecodeError.
func Decode(text string) (Message, error) {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		return decodeJSON(trimmed)
	}
	return decodeControl(trimmed)
}

func decodeJSON(text string) (Message, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Message{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	sdpRaw, hasSDP := env["sdp"]
	iceRaw, hasICE := env["ice"]

	switch {
	case hasSDP && hasICE:
		return Message{}, &DecodeError{Reason: ReasonUnrecognized, Err: errors.New("both sdp and ice present")}
	case hasSDP:
		return decodeSDP(sdpRaw)
	case hasICE:
		return decodeICE(iceRaw)
	default:
		return Message{}, &DecodeError{Reason: ReasonUnrecognized, Err: errors.New("no sdp or ice envelope")}
	}
}

func decodeSDP(raw json.RawMessage) (Message, error) {
	body, err := object("sdp", raw)
	if err != nil {
		return Message{}, err
	}

	typ, err := stringField("sdp", body, "type")
	if err != nil {
		return Message{}, err
	}
	sdp, err := stringField("sdp", body, "sdp")
	if err != nil {
		return Message{}, err
	}

	switch SDPType(typ) {
	case SDPTypeOffer, SDPTypeAnswer:
	default:
		return Message{}, &DecodeError{
			Reason:   ReasonMalformed,
			Envelope: "sdp",
			Field:    "sdp.type",
			Err:      fmt.Errorf("unknown description type %q", typ),
		}
	}

	return SDP(SessionDescription{Type: SDPType(typ), SDP: sdp}), nil
}

func decodeICE(raw json.RawMessage) (Message, error) {
	body, err := object("ice", raw)
	if err != nil {
		return Message{}, err
	}

	idxRaw, ok := body["sdpMLineIndex"]
	if !ok {
		return Message{}, missing("ice", "sdpMLineIndex", nil)
	}
	var idx uint16
	if err := json.Unmarshal(idxRaw, &idx); err != nil {
		return Message{}, missing("ice", "sdpMLineIndex", err)
	}

	candidate, err := stringField("ice", body, "candidate")
	if err != nil {
		return Message{}, err
	}

	return ICE(ICECandidate{SDPMLineIndex: idx, Candidate: candidate}), nil
}

func object(envelope string, raw json.RawMessage) (map[string]json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil || body == nil {
		if err == nil {
			err = errors.New("null envelope")
		}
		return nil, &DecodeError{Reason: ReasonMalformed, Envelope: envelope, Field: envelope, Err: err}
	}
	return body, nil
}

func stringField(envelope string, body map[string]json.RawMessage, name string) (string, error) {
	raw, ok := body[name]
	if !ok {
		return "", missing(envelope, name, nil)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", missing(envelope, name, err)
	}
	return s, nil
}

func missing(envelope, name string, err error) *DecodeError {
	return &DecodeError{Reason: ReasonMissingField, Envelope: envelope, Field: envelope + "." + name, Err: err}
}

func decodeControl(text string) (Message, error) {
	keyword, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch keyword {
	case keywordHello:
		if strings.ContainsAny(rest, " \t\r\n") {
			return Message{}, &DecodeError{Reason: ReasonMalformed, Field: "HELLO", Err: errors.New("id contains whitespace")}
		}
		return Hello(rest), nil

	case keywordSession:
		if rest == "" || strings.ContainsAny(rest, " \t\r\n") {
			return Message{}, &DecodeError{Reason: ReasonMalformed, Field: "SESSION", Err: errors.New("expected a single peer id")}
		}
		return SessionRequest(rest), nil

	case keywordSessionOK:
		if rest != "" {
			return Message{}, &DecodeError{Reason: ReasonMalformed, Field: "SESSION_OK", Err: errors.New("unexpected arguments")}
		}
		return SessionOK(), nil

	case keywordError:
		return RelayError(rest), nil
	}

	return Message{}, &DecodeError{Reason: ReasonUnrecognized, Err: fmt.Errorf("unknown control line %q", truncate(text, 32))}
}

// Encode renders msg in its wire form.
func Encode(msg Message) (string, error) {
	switch msg.Kind {
	case KindHello:
		if msg.ID == "" {
			return keywordHello, nil
		}
		return keywordHello + " " + msg.ID, nil

	case KindSessionRequest:
		if msg.PeerID == "" {
			return "", errors.New("encode: session request without peer id")
		}
		return keywordSession + " " + msg.PeerID, nil

	case KindSessionOK:
		return keywordSessionOK, nil

	case KindRelayError:
		if msg.Reason == "" {
			return keywordError, nil
		}
		return keywordError + " " + msg.Reason, nil

	case KindSDP:
		switch msg.Description.Type {
		case SDPTypeOffer, SDPTypeAnswer:
		default:
			return "", fmt.Errorf("encode: unknown description type %q", msg.Description.Type)
		}
		if !utf8.ValidString(msg.Description.SDP) {
			return "", errors.New("encode: SDP is not valid UTF-8")
		}
		data, err := json.Marshal(sdpEnvelope{SDP: sdpBody{
			Type: string(msg.Description.Type),
			SDP:  msg.Description.SDP,
		}})
		return string(data), err

	case KindICE:
		if !utf8.ValidString(msg.Candidate.Candidate) {
			return "", errors.New("encode: ICE candidate is not valid UTF-8")
		}
		data, err := json.Marshal(iceEnvelope{ICE: iceBody{
			SDPMLineIndex: msg.Candidate.SDPMLineIndex,
			Candidate:     msg.Candidate.Candidate,
		}})
		return string(data), err
	}

	return "", fmt.Errorf("encode: unknown message kind %d", msg.Kind)
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
