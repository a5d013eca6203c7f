// Package wire defines the message envelopes exchanged on a call leg's duplex
// stream and the codec that frames them as UTF-8 JSON, one envelope per frame.
//
// Envelopes form a closed set: every kind has a dedicated struct implementing
// [Envelope], and [Decode] refuses kinds outside the set with
// [ErrUnknownKind]. Audio payloads travel as base64 strings inside the JSON
// frame (encoding/json's native []byte representation).
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Role identifies which side of the call a leg belongs to.
type Role string

const (
	RoleOperator Role = "operator"
	RoleScammer  Role = "scammer"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleScammer
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleOperator {
		return RoleScammer
	}
	return RoleOperator
}

// Kind discriminates the envelope variants on the wire.
type Kind string

const (
	KindAudio           Kind = "audio"
	KindTranscript      Kind = "transcript"
	KindCoaching        Kind = "coaching"
	KindIntelligence    Kind = "intelligence"
	KindText            Kind = "text"
	KindPing            Kind = "ping"
	KindPong            Kind = "pong"
	KindConnected       Kind = "connected"
	KindPeerJoined      Kind = "peer_joined"
	KindPeerLeft        Kind = "peer_left"
	KindRequestCoaching Kind = "request_coaching"
	KindEnd             Kind = "end"
	KindCallEnded       Kind = "call_ended"
	KindError           Kind = "error"
)

// ErrUnknownKind is returned by [Decode] for a frame whose kind field is not
// part of the closed envelope set.
var ErrUnknownKind = errors.New("unknown envelope kind")

// ErrorCode classifies error envelopes sent to a participant.
type ErrorCode string

const (
	CodeUnknownEnvelope  ErrorCode = "UnknownEnvelope"
	CodeRoleOccupied     ErrorCode = "RoleOccupied"
	CodeUnsupportedCodec ErrorCode = "UnsupportedCodec"
	CodeBadPayload       ErrorCode = "BadPayload"
	CodeSessionLimit     ErrorCode = "SessionLimit"
)

// EndReason explains why a call_ended envelope was emitted.
type EndReason string

const (
	ReasonRequested    EndReason = "requested"
	ReasonTimeout      EndReason = "timeout"
	ReasonSlowConsumer EndReason = "slow_consumer"
	ReasonDisconnected EndReason = "disconnected"
	ReasonInternal     EndReason = "internal_error"
)

// Envelope is one framed message on the duplex stream.
type Envelope interface {
	EnvelopeKind() Kind
}

// Audio carries one codec-framed chunk of audio. On ingress the speaker field
// is empty; on egress it names the leg the chunk originated from.
type Audio struct {
	Codec   string `json:"codec"`
	Payload []byte `json:"payload"`
	Seq     uint64 `json:"seq,omitempty"`
	Speaker Role   `json:"speaker,omitempty"`
}

func (Audio) EnvelopeKind() Kind { return KindAudio }

// Transcript carries a finalised per-leg transcript fragment.
type Transcript struct {
	Speaker    Role      `json:"speaker"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

func (Transcript) EnvelopeKind() Kind { return KindTranscript }

// EntityDelta is one newly discovered entity inside an intelligence envelope.
type EntityDelta struct {
	Kind       string    `json:"kind"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	FirstSeen  time.Time `json:"first_seen_at"`
}

// Intelligence reports newly discovered entities and tactics plus the current
// threat score. Deltas only; the operator UI accumulates them.
type Intelligence struct {
	EntitiesDelta []EntityDelta `json:"entities_delta"`
	TacticsDelta  []string      `json:"tactics_delta"`
	ThreatScore   float64       `json:"threat_score"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (Intelligence) EnvelopeKind() Kind { return KindIntelligence }

// Coaching delivers a spoken suggestion to the operator. Audio and AudioCodec
// are set only when synthesis succeeded.
type Coaching struct {
	Text       string    `json:"text"`
	Strategy   string    `json:"strategy"`
	Intent     string    `json:"intent"`
	Audio      []byte    `json:"audio,omitempty"`
	AudioCodec string    `json:"audio_codec,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (Coaching) EnvelopeKind() Kind { return KindCoaching }

// Text is the chat fallback: a typed message relayed to the peer and recorded
// in the transcript with full confidence.
type Text struct {
	Text    string `json:"text"`
	Speaker Role   `json:"speaker,omitempty"`
}

func (Text) EnvelopeKind() Kind { return KindText }

// Ping and Pong implement the liveness handshake.
type Ping struct{}

func (Ping) EnvelopeKind() Kind { return KindPing }

type Pong struct{}

func (Pong) EnvelopeKind() Kind { return KindPong }

// Connected acknowledges a successful attach on that leg.
type Connected struct {
	CallID         string `json:"call_id"`
	Role           Role   `json:"role"`
	WaitingForPeer bool   `json:"waiting_for_peer"`
}

func (Connected) EnvelopeKind() Kind { return KindConnected }

// PeerJoined and PeerLeft report membership changes on the other leg.
type PeerJoined struct {
	Role Role `json:"role"`
}

func (PeerJoined) EnvelopeKind() Kind { return KindPeerJoined }

type PeerLeft struct {
	Role Role `json:"role"`
}

func (PeerLeft) EnvelopeKind() Kind { return KindPeerLeft }

// RequestCoaching asks for a coaching run from the current context window.
// Operator leg only.
type RequestCoaching struct{}

func (RequestCoaching) EnvelopeKind() Kind { return KindRequestCoaching }

// End requests participant-initiated teardown.
type End struct{}

func (End) EnvelopeKind() Kind { return KindEnd }

// CallEnded is the final envelope on a leg.
type CallEnded struct {
	Reason     EndReason `json:"reason"`
	DurationMS int64     `json:"duration_ms"`
}

func (CallEnded) EnvelopeKind() Kind { return KindCallEnded }

// Error reports a recoverable protocol problem to the sender. The stream
// stays open unless the code is fatal to the attach (RoleOccupied).
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (Error) EnvelopeKind() Kind { return KindError }

// Encode frames env as a single JSON object with a kind discriminator.
func Encode(env Envelope) ([]byte, error) {
	switch v := env.(type) {
	case Audio:
		return encodeAs(KindAudio, v)
	case Transcript:
		return encodeAs(KindTranscript, v)
	case Intelligence:
		return encodeAs(KindIntelligence, v)
	case Coaching:
		return encodeAs(KindCoaching, v)
	case Text:
		return encodeAs(KindText, v)
	case Ping:
		return encodeAs(KindPing, v)
	case Pong:
		return encodeAs(KindPong, v)
	case Connected:
		return encodeAs(KindConnected, v)
	case PeerJoined:
		return encodeAs(KindPeerJoined, v)
	case PeerLeft:
		return encodeAs(KindPeerLeft, v)
	case RequestCoaching:
		return encodeAs(KindRequestCoaching, v)
	case End:
		return encodeAs(KindEnd, v)
	case CallEnded:
		return encodeAs(KindCallEnded, v)
	case Error:
		return encodeAs(KindError, v)
	default:
		return nil, fmt.Errorf("wire: encode: unsupported envelope type %T", env)
	}
}

// encodeAs splices the kind discriminator in front of the body's fields.
// encoding/json has no inline tag, so the two objects are joined by hand.
func encodeAs[T any](kind Kind, body T) ([]byte, error) {
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", kind, err)
	}
	kindJSON, err := json.Marshal(struct {
		Kind Kind `json:"kind"`
	}{kind})
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", kind, err)
	}
	if string(bodyJSON) == "{}" {
		return kindJSON, nil
	}
	// {"kind":"x"} + {...} → {"kind":"x",...}
	out := make([]byte, 0, len(kindJSON)+len(bodyJSON))
	out = append(out, kindJSON[:len(kindJSON)-1]...)
	out = append(out, ',')
	out = append(out, bodyJSON[1:]...)
	return out, nil
}

// Decode parses a single JSON frame into its concrete envelope type.
// Returns [ErrUnknownKind] (wrapped) when the kind is outside the closed set.
func Decode(data []byte) (Envelope, error) {
	var probe struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("wire: decode frame: %w", err)
	}

	switch probe.Kind {
	case KindAudio:
		return decodeAs[Audio](data)
	case KindTranscript:
		return decodeAs[Transcript](data)
	case KindIntelligence:
		return decodeAs[Intelligence](data)
	case KindCoaching:
		return decodeAs[Coaching](data)
	case KindText:
		return decodeAs[Text](data)
	case KindPing:
		return Ping{}, nil
	case KindPong:
		return Pong{}, nil
	case KindConnected:
		return decodeAs[Connected](data)
	case KindPeerJoined:
		return decodeAs[PeerJoined](data)
	case KindPeerLeft:
		return decodeAs[PeerLeft](data)
	case KindRequestCoaching:
		return RequestCoaching{}, nil
	case KindEnd:
		return End{}, nil
	case KindCallEnded:
		return decodeAs[CallEnded](data)
	case KindError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("wire: %w: %q", ErrUnknownKind, probe.Kind)
	}
}

func decodeAs[T Envelope](data []byte) (Envelope, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("wire: decode %s: %w", v.EnvelopeKind(), err)
	}
	return v, nil
}
