// Package broker implements the live call core: a registry of call
// sessions, each an actor-style state machine owning two legs (operator and
// scammer), their ingress/egress pumps, per-leg streaming transcription,
// low-latency audio relay, and the parallel intelligence and coaching
// analysis lanes.
//
// The transport is abstracted behind [Conn]; the server package binds it to
// websockets, tests bind it to in-memory pipes. All session state mutations
// flow through the session's inbox, making each session a single-writer
// state machine.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/kavachlabs/kavach/internal/coach"
	"github.com/kavachlabs/kavach/internal/intel"
	"github.com/kavachlabs/kavach/internal/observe"
	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/audio"
	"github.com/kavachlabs/kavach/pkg/memory"
	"github.com/kavachlabs/kavach/pkg/provider/stt"
	"github.com/kavachlabs/kavach/pkg/provider/urlscan"
	"github.com/kavachlabs/kavach/pkg/provider/vad"
)

// Conn is the duplex message transport of one leg. Read returns one frame;
// Write sends one frame. Implementations must unblock both when the
// connection drops or CloseNow is called.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error

	// Close performs an orderly close with a human-readable reason.
	Close(reason string) error

	// CloseNow tears the transport down without a closing handshake.
	CloseNow() error
}

// Registry errors surfaced to the transport layer.
var (
	// ErrRoleOccupied means a leg with the requested role is already
	// attached to the session.
	ErrRoleOccupied = errors.New("broker: role occupied")

	// ErrSessionLimit means the registry is at max_sessions.
	ErrSessionLimit = errors.New("broker: session limit reached")

	// ErrUnknownCall is returned by lookups for an id with no live session.
	ErrUnknownCall = errors.New("broker: unknown call")
)

// errPingTimeout detaches a leg after the configured run of missed pongs.
var errPingTimeout = errors.New("broker: ping timeout")

// Config carries the tunables of the call core. The zero value is unusable;
// call [DefaultConfig].
type Config struct {
	// MaxSessions caps concurrently live sessions.
	MaxSessions int

	// EgressQueueCapacity bounds each leg's egress queue in envelopes.
	EgressQueueCapacity int

	// SlowConsumerAfter is how long a non-droppable egress push may block
	// before the leg is declared a slow consumer and drained.
	SlowConsumerAfter time.Duration

	// PingInterval is the liveness probe period; PingMissLimit consecutive
	// unanswered probes drain the leg.
	PingInterval  time.Duration
	PingMissLimit int

	// DrainGrace is how long a one-legged session waits for the missing
	// role to reattach before ending with reason timeout.
	DrainGrace time.Duration

	// DrainDeadline is the hard deadline for flushing egress queues at
	// teardown.
	DrainDeadline time.Duration

	// STTWindow is the voiced-audio length that forces a transcription.
	// EndpointSilence is the trailing silence that finalises an utterance
	// once MinVoiced speech has accumulated. Windows with less than
	// DiscardVoiced voiced audio per DiscardWindow are dropped unheard.
	STTWindow       time.Duration
	EndpointSilence time.Duration
	MinVoiced       time.Duration
	DiscardVoiced   time.Duration
	DiscardWindow   time.Duration

	// Collaborator deadlines.
	STTTimeout     time.Duration
	LLMTimeout     time.Duration
	TTSTimeout     time.Duration
	URLScanTimeout time.Duration

	// IntelConcurrency caps in-flight intelligence extractions per session.
	IntelConcurrency int

	// LanguageHint is passed to the recogniser with every window. Empty
	// means autodetect.
	LanguageHint string

	// CodecAllowlist restricts acceptable ingress audio codecs. Empty
	// means the normaliser's default set.
	CodecAllowlist []string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:         1024,
		EgressQueueCapacity: 256,
		SlowConsumerAfter:   5 * time.Second,
		PingInterval:        10 * time.Second,
		PingMissLimit:       3,
		DrainGrace:          60 * time.Second,
		DrainDeadline:       2 * time.Second,
		STTWindow:           3 * time.Second,
		EndpointSilence:     800 * time.Millisecond,
		MinVoiced:           500 * time.Millisecond,
		DiscardVoiced:       300 * time.Millisecond,
		DiscardWindow:       5 * time.Second,
		STTTimeout:          8 * time.Second,
		LLMTimeout:          6 * time.Second,
		TTSTimeout:          4 * time.Second,
		URLScanTimeout:      10 * time.Second,
		IntelConcurrency:    4,
	}
}

// Collaborators are the external services a session consumes. STT, VAD and
// the normaliser are required; the rest degrade gracefully when nil: no
// coach means no coaching lane, no scanner means no URL probes, no store
// means no archival, no recorder means no audio log, no metrics means no
// instrumentation.
type Collaborators struct {
	STT        stt.Provider
	VAD        vad.Engine
	Normaliser *audio.Normaliser
	Extractor  *intel.Extractor
	Coach      *coach.Agent
	Scanner    urlscan.Scanner
	Store      memory.Store
	Recorder   RecorderFactory
	Metrics    *observe.Metrics
}

// Recorder consumes the normalised audio of one call, interleaved across
// legs in arrival order. Append must tolerate concurrent calls from both
// leg pipelines.
type Recorder interface {
	Append(role wire.Role, at time.Time, pcm []byte) error
	Close() error
}

// RecorderFactory opens a Recorder for a newly formed call.
type RecorderFactory func(callID string, startedAt time.Time) (Recorder, error)

// Status is the control-plane view of one session.
type Status struct {
	CallID       string
	State        string
	LegsPresent  []string
	StartedAt    time.Time
	LastActivity time.Time
}
