package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Summary describes the negotiation content of a routed frame. It is used for
// metrics and debug logging only; routing never depends on it.
type Summary struct {
	Type MessageType

	// SDPType is set for OFFER and ANSWER frames whose payload carries a
	// session description.
	SDPType webrtc.SDPType
	// Candidate is set for CANDIDATE frames.
	Candidate *webrtc.ICECandidateInit

	// Err is non-nil when the payload does not look like what the type
	// promises (e.g. an OFFER whose SDP does not parse).
	Err error
}

type negotiationPayload struct {
	SDP          *sessionDescription      `json:"sdp,omitempty"`
	Candidate    *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	ConnectionID string                   `json:"connectionId,omitempty"`
}

type sessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s sessionDescription) toPion() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(s.Type), SDP: s.SDP}
}

// Inspect looks into the payload of OFFER, ANSWER and CANDIDATE frames.
func Inspect(env *Envelope) Summary {
	sum := Summary{Type: env.Type}

	switch env.Type {
	case MessageTypeOffer, MessageTypeAnswer, MessageTypeCandidate:
	default:
		return sum
	}

	raw := env.Payload()
	if len(raw) == 0 {
		sum.Err = fmt.Errorf("%s frame without payload", env.Type)
		return sum
	}
	var p negotiationPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		sum.Err = err
		return sum
	}

	if env.Type == MessageTypeCandidate {
		if p.Candidate == nil {
			sum.Err = fmt.Errorf("CANDIDATE frame without candidate")
			return sum
		}
		sum.Candidate = p.Candidate
		return sum
	}

	if p.SDP == nil {
		sum.Err = fmt.Errorf("%s frame without sdp", env.Type)
		return sum
	}
	desc := p.SDP.toPion()
	sum.SDPType = desc.Type
	want := webrtc.SDPTypeOffer
	if env.Type == MessageTypeAnswer {
		want = webrtc.SDPTypeAnswer
	}
	if desc.Type != want {
		sum.Err = fmt.Errorf("%s frame has sdp.type=%q", env.Type, p.SDP.Type)
		return sum
	}
	if _, err := desc.Unmarshal(); err != nil {
		sum.Err = fmt.Errorf("%s frame has invalid sdp: %w", env.Type, err)
	}
	return sum
}

// Label returns a short metrics label for the summary.
func (s Summary) Label() string {
	switch s.Type {
	case MessageTypeOffer:
		return "offer"
	case MessageTypeAnswer:
		return "answer"
	case MessageTypeCandidate:
		return "candidate"
	case MessageTypeLeave:
		return "leave"
	case MessageTypeExpire:
		return "expire"
	default:
		return "other"
	}
}
