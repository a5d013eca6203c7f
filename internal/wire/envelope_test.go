package wire_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/kavachlabs/kavach/internal/wire"
)

func TestEncodeDecode_Audio(t *testing.T) {
	t.Parallel()

	in := wire.Audio{
		Codec:   "webm-opus",
		Payload: []byte{0x01, 0x02, 0x03},
		Seq:     7,
		Speaker: wire.RoleScammer,
	}

	data, err := wire.Encode(in)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	// The payload must ride as a base64 string inside the JSON frame.
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("frame is not valid JSON: %v", err)
	}
	if raw["kind"] != "audio" {
		t.Errorf("kind = %v, want audio", raw["kind"])
	}
	if _, ok := raw["payload"].(string); !ok {
		t.Errorf("payload should be a base64 string, got %T", raw["payload"])
	}

	out, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	audio, ok := out.(wire.Audio)
	if !ok {
		t.Fatalf("Decode() type = %T, want wire.Audio", out)
	}
	if audio.Codec != in.Codec || audio.Seq != in.Seq || audio.Speaker != in.Speaker {
		t.Errorf("roundtrip mismatch: got %+v", audio)
	}
	if string(audio.Payload) != string(in.Payload) {
		t.Errorf("payload mismatch: got %v", audio.Payload)
	}
}

func TestEncodeDecode_AllKinds(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	envelopes := []wire.Envelope{
		wire.Audio{Codec: "wav-pcm", Payload: []byte{0}},
		wire.Transcript{Speaker: wire.RoleScammer, Text: "hello", Language: "en", Confidence: 0.9, StartedAt: now, EndedAt: now},
		wire.Intelligence{EntitiesDelta: []wire.EntityDelta{{Kind: "phone", Value: "919876543210"}}, TacticsDelta: []string{"urgency"}, ThreatScore: 0.4, UpdatedAt: now},
		wire.Coaching{Text: "stall them", Strategy: "delay", Intent: "otp_harvest", CreatedAt: now},
		wire.Text{Text: "typed message"},
		wire.Ping{},
		wire.Pong{},
		wire.Connected{CallID: "c1", Role: wire.RoleOperator, WaitingForPeer: true},
		wire.PeerJoined{Role: wire.RoleScammer},
		wire.PeerLeft{Role: wire.RoleOperator},
		wire.RequestCoaching{},
		wire.End{},
		wire.CallEnded{Reason: wire.ReasonRequested, DurationMS: 1234},
		wire.Error{Code: wire.CodeRoleOccupied, Message: "taken"},
	}

	for _, env := range envelopes {
		data, err := wire.Encode(env)
		if err != nil {
			t.Fatalf("Encode(%s) error: %v", env.EnvelopeKind(), err)
		}
		out, err := wire.Decode(data)
		if err != nil {
			t.Fatalf("Decode(%s) error: %v", env.EnvelopeKind(), err)
		}
		if out.EnvelopeKind() != env.EnvelopeKind() {
			t.Errorf("roundtrip kind = %s, want %s", out.EnvelopeKind(), env.EnvelopeKind())
		}
	}
}

func TestDecode_UnknownKind(t *testing.T) {
	t.Parallel()

	_, err := wire.Decode([]byte(`{"kind":"telepathy"}`))
	if !errors.Is(err, wire.ErrUnknownKind) {
		t.Fatalf("err = %v, want ErrUnknownKind", err)
	}
}

func TestDecode_MalformedFrame(t *testing.T) {
	t.Parallel()

	if _, err := wire.Decode([]byte(`{"kind":`)); err == nil {
		t.Fatal("expected error for truncated frame")
	}
	if _, err := wire.Decode([]byte(`{"kind":"audio","payload":"!!!not-base64!!!"}`)); err == nil {
		t.Fatal("expected error for invalid base64 payload")
	}
}

func TestDecode_IngressShapes(t *testing.T) {
	t.Parallel()

	// The minimal client frames from the protocol documentation.
	tests := []struct {
		frame string
		want  wire.Kind
	}{
		{`{"kind":"audio","codec":"webm-opus","payload":"AAEC"}`, wire.KindAudio},
		{`{"kind":"end"}`, wire.KindEnd},
		{`{"kind":"ping"}`, wire.KindPing},
		{`{"kind":"text","text":"hi"}`, wire.KindText},
		{`{"kind":"request_coaching"}`, wire.KindRequestCoaching},
	}
	for _, tt := range tests {
		env, err := wire.Decode([]byte(tt.frame))
		if err != nil {
			t.Errorf("Decode(%s) error: %v", tt.frame, err)
			continue
		}
		if env.EnvelopeKind() != tt.want {
			t.Errorf("Decode(%s) kind = %s, want %s", tt.frame, env.EnvelopeKind(), tt.want)
		}
	}
}

func TestRole(t *testing.T) {
	t.Parallel()

	if !wire.RoleOperator.IsValid() || !wire.RoleScammer.IsValid() {
		t.Error("built-in roles should be valid")
	}
	if wire.Role("observer").IsValid() {
		t.Error("unknown role should be invalid")
	}
	if wire.RoleOperator.Peer() != wire.RoleScammer {
		t.Error("operator peer should be scammer")
	}
	if wire.RoleScammer.Peer() != wire.RoleOperator {
		t.Error("scammer peer should be operator")
	}
}
