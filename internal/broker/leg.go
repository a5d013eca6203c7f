package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/audio"
)

// leg is one attached participant: its transport, bounded egress queue,
// transcription driver, and liveness state. The session actor owns the
// liveness fields; the pump goroutines touch only the queue, the
// transcriber, and the atomic sequence counter.
type leg struct {
	role  wire.Role
	conn  Conn
	queue *egressQueue
	tr    *transcriber

	cancelPumps context.CancelFunc
	seq         atomic.Uint64

	awaitingPong bool
	missedPings  int

	attachedAt time.Time
}

// readLoop pumps ingress frames. Audio stays on the hot path: it is
// normalised, relayed to the peer's egress queue, fed to the transcription
// driver, and appended to the recorder, all without touching the actor.
// Every other envelope goes through the session inbox. Exit posts a detach.
func (s *Session) readLoop(ctx context.Context, l *leg) {
	for {
		frame, err := l.conn.Read(ctx)
		if err != nil {
			s.post(msgDetach{role: l.role, err: err})
			return
		}
		env, err := wire.Decode(frame)
		if err != nil {
			code := wire.CodeBadPayload
			if errors.Is(err, wire.ErrUnknownKind) {
				code = wire.CodeUnknownEnvelope
			}
			s.post(msgProtocolError{role: l.role, code: code, detail: err.Error()})
			continue
		}

		s.collab.Metrics.CountEnvelopeIn(ctx, string(env.EnvelopeKind()), string(l.role))
		if a, ok := env.(wire.Audio); ok {
			s.handleAudio(l, a)
			continue
		}
		s.post(msgIngress{role: l.role, env: env})
	}
}

// handleAudio runs on the reader goroutine. Normalisation failures notify
// the sender and drop the chunk; transcription is not disturbed.
func (s *Session) handleAudio(l *leg, a wire.Audio) {
	pcm, err := s.collab.Normaliser.Normalise(a.Codec, a.Payload)
	if err != nil {
		if errors.Is(err, audio.ErrEmptyChunk) {
			return
		}
		code := wire.CodeBadPayload
		if errors.Is(err, audio.ErrUnsupportedCodec) {
			code = wire.CodeUnsupportedCodec
		}
		s.post(msgProtocolError{role: l.role, code: code, detail: err.Error()})
		return
	}

	now := time.Now()
	s.touch(now)

	if peer := s.peerQueue(l.role); peer != nil {
		peer.PushAudio(wire.Audio{
			Codec:   audio.CodecPCM16K,
			Payload: pcm,
			Seq:     l.seq.Add(1),
			Speaker: l.role,
		})
	}
	l.tr.Ingest(pcm)

	if rec := s.recorder.Load(); rec != nil {
		if err := (*rec).Append(l.role, now, pcm); err != nil {
			s.log.Warn("session: recorder append failed", "call_id", s.callID, "error", err)
		}
	}
}

// writeLoop drains the egress queue onto the transport. A write error
// detaches the leg; there are no retries on a lost stream.
func (s *Session) writeLoop(ctx context.Context, l *leg) {
	for {
		env, ok := l.queue.Pop(ctx)
		if !ok {
			return
		}
		frame, err := wire.Encode(env)
		if err != nil {
			s.log.Error("session: unencodable envelope", "call_id", s.callID, "error", err)
			continue
		}
		if err := l.conn.Write(ctx, frame); err != nil {
			s.post(msgDetach{role: l.role, err: err})
			return
		}
		s.collab.Metrics.CountEnvelopeOut(ctx, string(env.EnvelopeKind()), string(l.role))
	}
}
