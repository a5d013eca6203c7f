package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kavachlabs/kavach/internal/coach"
	"github.com/kavachlabs/kavach/internal/intel"
	"github.com/kavachlabs/kavach/internal/wire"
	"github.com/kavachlabs/kavach/pkg/memory"
	"github.com/kavachlabs/kavach/pkg/provider/vad"
)

// Session lifecycle states.
const (
	stateForming  = "forming"
	stateActive   = "active"
	stateDraining = "draining"
	stateEnded    = "ended"
)

// windowKeep is how many transcript entries the session retains for the
// coaching context window. The agent trims further to its own size.
const windowKeep = 12

// archiveTimeout bounds each best-effort persistence call.
const archiveTimeout = 5 * time.Second

// Inbox messages. Everything that mutates session state arrives as one of
// these; the run loop is the single writer.
type (
	msgAttach struct {
		role  wire.Role
		conn  Conn
		reply chan error
	}
	msgDetach struct {
		role wire.Role
		err  error
	}
	msgIngress struct {
		role wire.Role
		env  wire.Envelope
	}
	msgProtocolError struct {
		role   wire.Role
		code   wire.ErrorCode
		detail string
	}
	msgTranscript struct {
		entry memory.TranscriptEntry
	}
	msgIntel struct {
		delta intel.Delta
	}
	msgCoach struct {
		suggestion coach.Suggestion
	}
	msgEnd struct {
		reason wire.EndReason
	}
	msgGraceExpired struct{}
	msgStatus       struct {
		reply chan Status
	}
)

// Session is one live call: an actor owning two legs and their pipelines.
type Session struct {
	callID string
	cfg    Config
	collab Collaborators
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan any
	done   chan struct{}

	legsMu sync.RWMutex
	legs   map[wire.Role]*leg

	state        string
	startedAt    time.Time
	lastActivity atomic.Int64

	windowMu sync.Mutex
	recent   []coach.ContextEntry

	dispatcher *dispatcher
	recorder   atomic.Pointer[Recorder]
	graceTimer *time.Timer
	onEnded    func(callID string)
}

func newSession(callID string, cfg Config, collab Collaborators, log *slog.Logger, onEnded func(string)) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		callID:    callID,
		cfg:       cfg,
		collab:    collab,
		log:       log.With("call_id", callID),
		ctx:       ctx,
		cancel:    cancel,
		inbox:     make(chan any, 64),
		done:      make(chan struct{}),
		legs:      make(map[wire.Role]*leg),
		state:     stateForming,
		startedAt: time.Now(),
		onEnded:   onEnded,
	}
	s.lastActivity.Store(s.startedAt.UnixNano())
	s.dispatcher = newDispatcher(collab, cfg, s.log, s.contextWindow, s.postIntel, s.postCoach)

	if collab.Recorder != nil {
		rec, err := collab.Recorder(callID, s.startedAt)
		if err != nil {
			s.log.Warn("session: recorder unavailable", "error", err)
		} else {
			s.recorder.Store(&rec)
		}
	}

	collab.Metrics.AddSessions(ctx, 1)
	go s.run()
	return s
}

// Attach binds a connection to the given role. Blocks until the actor has
// accepted or refused the leg.
func (s *Session) Attach(ctx context.Context, role wire.Role, conn Conn) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- msgAttach{role: role, conn: conn, reply: reply}:
	case <-s.done:
		return ErrUnknownCall
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrUnknownCall
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End requests orderly teardown.
func (s *Session) End() {
	s.post(msgEnd{reason: wire.ReasonRequested})
}

// Status answers the control-plane view.
func (s *Session) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case s.inbox <- msgStatus{reply: reply}:
	case <-s.done:
		return Status{CallID: s.callID, State: stateEnded}, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-reply:
		return st, nil
	case <-s.done:
		return Status{CallID: s.callID, State: stateEnded}, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Done is closed once the session has fully torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// post delivers a message to the actor, giving up once the session is gone.
func (s *Session) post(m any) {
	select {
	case s.inbox <- m:
	case <-s.done:
	}
}

func (s *Session) postIntel(delta intel.Delta) { s.post(msgIntel{delta: delta}) }

func (s *Session) postCoach(sg coach.Suggestion) { s.post(msgCoach{suggestion: sg}) }

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// run is the actor loop. It is the only goroutine that mutates session
// state; it keeps draining the inbox until teardown completes so that no
// producer can wedge on a dead session.
func (s *Session) run() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.state == stateActive || s.state == stateForming || s.state == stateDraining {
				s.pingLegs()
			}
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

// handle processes one inbox message. A panic in a handler is an invariant
// violation: it is logged with a correlation id and the session transitions
// to Ended with reason internal_error instead of taking the process down.
func (s *Session) handle(m any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("session: handler panic",
				"incident_id", uuid.NewString(), "panic", r)
			s.end(wire.ReasonInternal)
		}
	}()

	switch msg := m.(type) {
	case msgAttach:
		msg.reply <- s.handleAttach(msg.role, msg.conn)
	case msgDetach:
		s.handleDetach(msg)
	case msgIngress:
		s.handleIngress(msg.role, msg.env)
	case msgProtocolError:
		if l := s.legs[msg.role]; l != nil {
			s.sendControl(l, wire.Error{Code: msg.code, Message: msg.detail})
		}
	case msgTranscript:
		s.handleTranscript(msg.entry)
	case msgIntel:
		s.handleIntel(msg.delta)
	case msgCoach:
		s.handleCoach(msg.suggestion)
	case msgEnd:
		s.end(msg.reason)
	case msgGraceExpired:
		if s.state == stateDraining {
			s.end(wire.ReasonTimeout)
		}
	case msgStatus:
		msg.reply <- s.status()
	}
}

func (s *Session) handleAttach(role wire.Role, conn Conn) error {
	if s.state == stateEnded {
		return ErrUnknownCall
	}
	if _, taken := s.legs[role]; taken {
		return ErrRoleOccupied
	}

	detect, err := s.collab.VAD.NewSession(vad.Config{
		SampleRate:  16000,
		FrameSizeMs: vadFrameMs,
	})
	if err != nil {
		return err
	}

	l := &leg{
		role:       role,
		conn:       conn,
		queue:      newEgressQueue(s.cfg.EgressQueueCapacity, s.cfg.SlowConsumerAfter),
		attachedAt: time.Now(),
	}
	l.tr = newTranscriber(role, s.collab.STT, detect, s.cfg, s.log, s.collab.Metrics, func(e memory.TranscriptEntry) {
		s.post(msgTranscript{entry: e})
	})

	pctx, cancelPumps := context.WithCancel(s.ctx)
	l.cancelPumps = cancelPumps

	s.legsMu.Lock()
	s.legs[role] = l
	s.legsMu.Unlock()

	go s.readLoop(pctx, l)
	go s.writeLoop(pctx, l)
	go l.tr.run(pctx)

	first := len(s.legs) == 1
	if first {
		s.archive(func(ctx context.Context, st memory.Store) error {
			return st.CreateCall(ctx, s.callID, s.startedAt)
		})
	}

	s.sendControl(l, wire.Connected{
		CallID:         s.callID,
		Role:           role,
		WaitingForPeer: len(s.legs) < 2,
	})

	switch {
	case s.state == stateForming && len(s.legs) == 2:
		s.state = stateActive
		s.announcePeers()
	case s.state == stateDraining:
		s.state = stateActive
		s.stopGraceTimer()
		s.announcePeers()
	}
	s.touch(time.Now())
	s.collab.Metrics.AddLegs(s.ctx, 1)
	s.log.Info("session: leg attached", "role", role, "state", s.state)
	return nil
}

// announcePeers tells each leg that its counterpart is present.
func (s *Session) announcePeers() {
	for _, l := range s.orderedLegs() {
		s.sendControl(l, wire.PeerJoined{Role: l.role.Peer()})
	}
}

func (s *Session) handleDetach(m msgDetach) {
	l := s.legs[m.role]
	if l == nil || s.state == stateEnded {
		return
	}
	s.log.Info("session: leg detached", "role", m.role, "error", m.err)

	s.legsMu.Lock()
	delete(s.legs, m.role)
	s.legsMu.Unlock()

	l.cancelPumps()
	l.queue.Close()
	_ = l.conn.CloseNow()
	s.collab.Metrics.AddLegs(s.ctx, -1)
	s.collab.Metrics.CountDroppedAudio(s.ctx, int64(l.queue.Dropped()+l.tr.dropped.Load()))

	// A slow consumer already lost must-deliver envelopes; the call cannot
	// continue coherently, so the surviving leg sees the real reason rather
	// than a drain that ends in timeout.
	if errors.Is(m.err, ErrSlowConsumer) {
		s.end(wire.ReasonSlowConsumer)
		return
	}

	if len(s.legs) == 0 {
		s.end(wire.ReasonDisconnected)
		return
	}

	s.state = stateDraining
	if surviving := s.legs[m.role.Peer()]; surviving != nil {
		s.sendControl(surviving, wire.PeerLeft{Role: m.role})
	}
	s.startGraceTimer()
}

func (s *Session) handleIngress(role wire.Role, env wire.Envelope) {
	l := s.legs[role]
	if l == nil || s.state == stateEnded {
		return
	}
	s.touch(time.Now())

	switch e := env.(type) {
	case wire.Ping:
		s.sendControl(l, wire.Pong{})
	case wire.Pong:
		l.awaitingPong = false
		l.missedPings = 0
	case wire.End:
		s.end(wire.ReasonRequested)
	case wire.Text:
		s.handleText(role, e)
	case wire.RequestCoaching:
		if role == wire.RoleOperator {
			s.dispatcher.RequestCoaching(s.ctx)
		}
	default:
		s.log.Debug("session: ignoring egress-only envelope on ingress",
			"role", role, "kind", env.EnvelopeKind())
	}
}

// handleText relays a typed chat message to the peer and treats it as a
// fully confident transcript entry.
func (s *Session) handleText(role wire.Role, e wire.Text) {
	if peer := s.legs[role.Peer()]; peer != nil {
		s.sendControl(peer, wire.Text{Text: e.Text, Speaker: role})
	}
	now := time.Now()
	s.handleTranscript(memory.TranscriptEntry{
		Speaker:    string(role),
		Text:       e.Text,
		Confidence: 1,
		StartedAt:  now,
		EndedAt:    now,
	})
}

func (s *Session) handleTranscript(entry memory.TranscriptEntry) {
	if s.state == stateEnded {
		return
	}
	s.touch(time.Now())

	s.windowMu.Lock()
	s.recent = append([]coach.ContextEntry{{Speaker: entry.Speaker, Text: entry.Text}}, s.recent...)
	if len(s.recent) > windowKeep {
		s.recent = s.recent[:windowKeep]
	}
	s.windowMu.Unlock()

	env := wire.Transcript{
		Speaker:    wire.Role(entry.Speaker),
		Text:       entry.Text,
		Language:   entry.Language,
		Confidence: entry.Confidence,
		StartedAt:  entry.StartedAt,
		EndedAt:    entry.EndedAt,
	}
	for _, l := range s.orderedLegs() {
		s.sendControl(l, env)
	}

	s.archive(func(ctx context.Context, st memory.Store) error {
		return st.AppendTranscript(ctx, s.callID, entry)
	})

	if entry.Speaker == string(wire.RoleScammer) {
		s.dispatcher.HandleTranscript(s.ctx, entry.Text)
	}
}

func (s *Session) handleIntel(delta intel.Delta) {
	if s.state == stateEnded {
		return
	}
	if op := s.legs[wire.RoleOperator]; op != nil {
		entities := make([]wire.EntityDelta, len(delta.NewEntities))
		for i, e := range delta.NewEntities {
			entities[i] = wire.EntityDelta{
				Kind:       string(e.Kind),
				Value:      e.Value,
				Confidence: e.Confidence,
				FirstSeen:  e.FirstSeenAt,
			}
		}
		s.sendControl(op, wire.Intelligence{
			EntitiesDelta: entities,
			TacticsDelta:  delta.NewTactics,
			ThreatScore:   delta.ThreatScore,
			UpdatedAt:     delta.UpdatedAt,
		})
	}
	s.saveIntelligence()
}

func (s *Session) handleCoach(sg coach.Suggestion) {
	if s.state == stateEnded {
		return
	}
	if op := s.legs[wire.RoleOperator]; op != nil {
		s.sendControl(op, wire.Coaching{
			Text:       sg.Text,
			Strategy:   sg.Strategy,
			Intent:     sg.Intent,
			Audio:      sg.Audio,
			AudioCodec: sg.AudioCodec,
			CreatedAt:  sg.CreatedAt,
		})
	}
}

// sendControl pushes a must-deliver envelope onto a leg. A sustained block
// marks the leg a slow consumer and detaches it.
func (s *Session) sendControl(l *leg, env wire.Envelope) {
	err := l.queue.PushControl(s.ctx, env)
	if errors.Is(err, ErrSlowConsumer) {
		s.log.Warn("session: slow consumer", "role", l.role)
		s.handleDetach(msgDetach{role: l.role, err: err})
	}
}

func (s *Session) pingLegs() {
	for _, l := range s.orderedLegs() {
		if l.awaitingPong {
			l.missedPings++
			if l.missedPings >= s.cfg.PingMissLimit {
				s.handleDetach(msgDetach{role: l.role, err: errPingTimeout})
				continue
			}
		}
		l.awaitingPong = true
		s.sendControl(l, wire.Ping{})
	}
}

// orderedLegs returns the attached legs, operator first, as a stable slice
// safe to iterate while handlers mutate the map.
func (s *Session) orderedLegs() []*leg {
	out := make([]*leg, 0, 2)
	if l := s.legs[wire.RoleOperator]; l != nil {
		out = append(out, l)
	}
	if l := s.legs[wire.RoleScammer]; l != nil {
		out = append(out, l)
	}
	return out
}

// peerQueue returns the egress queue of the peer leg, or nil. Called from
// reader goroutines.
func (s *Session) peerQueue(role wire.Role) *egressQueue {
	s.legsMu.RLock()
	defer s.legsMu.RUnlock()
	if peer := s.legs[role.Peer()]; peer != nil {
		return peer.queue
	}
	return nil
}

// contextWindow snapshots the recent transcript entries, newest first.
func (s *Session) contextWindow() []coach.ContextEntry {
	s.windowMu.Lock()
	defer s.windowMu.Unlock()
	out := make([]coach.ContextEntry, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *Session) startGraceTimer() {
	s.stopGraceTimer()
	s.graceTimer = time.AfterFunc(s.cfg.DrainGrace, func() {
		s.post(msgGraceExpired{})
	})
}

func (s *Session) stopGraceTimer() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
}

func (s *Session) status() Status {
	st := Status{
		CallID:       s.callID,
		State:        s.state,
		StartedAt:    s.startedAt,
		LastActivity: time.Unix(0, s.lastActivity.Load()),
	}
	for _, l := range s.orderedLegs() {
		st.LegsPresent = append(st.LegsPresent, string(l.role))
	}
	return st
}

// end transitions to Ended: notify the legs, stop the pipelines, flush the
// egress queues with a hard deadline, then finalise archival off the actor.
func (s *Session) end(reason wire.EndReason) {
	if s.state == stateEnded {
		return
	}
	s.state = stateEnded
	s.stopGraceTimer()
	durationMS := time.Since(s.startedAt).Milliseconds()
	s.log.Info("session: ended", "reason", reason, "duration_ms", durationMS)

	legs := s.orderedLegs()
	for _, l := range legs {
		s.sendControl(l, wire.CallEnded{Reason: reason, DurationMS: durationMS})
		l.queue.Close()
	}
	s.collab.Metrics.AddLegs(s.ctx, -int64(len(legs)))
	s.legsMu.Lock()
	clear(s.legs)
	s.legsMu.Unlock()

	// Drop the registry entry now, not after the off-actor teardown, so
	// control-plane lookups stop resolving the ended call immediately.
	if s.onEnded != nil {
		s.onEnded(s.callID)
	}
	go s.finalise(legs, reason)
}

// finalise runs off the actor: it gives the writers a bounded drain window,
// tears the transports down, waits out the analysis lanes, and persists the
// final state.
func (s *Session) finalise(legs []*leg, reason wire.EndReason) {
	deadline := time.After(s.cfg.DrainDeadline)
	for _, l := range legs {
		for l.queue.Len() > 0 {
			select {
			case <-deadline:
				goto drained
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
drained:
	for _, l := range legs {
		l.cancelPumps()
		_ = l.conn.Close("call ended")
		s.collab.Metrics.CountDroppedAudio(context.Background(), int64(l.queue.Dropped()+l.tr.dropped.Load()))
	}
	s.cancel()
	s.dispatcher.Wait()

	if rec := s.recorder.Load(); rec != nil {
		if err := (*rec).Close(); err != nil {
			s.log.Warn("session: recorder close failed", "error", err)
		}
	}
	s.saveIntelligence()
	s.archive(func(ctx context.Context, st memory.Store) error {
		return st.FinishCall(ctx, s.callID, string(reason), time.Now(), time.Since(s.startedAt).Milliseconds())
	})

	s.collab.Metrics.AddSessions(context.Background(), -1)
	close(s.done)
}

// saveIntelligence persists the cumulative snapshot, best-effort.
func (s *Session) saveIntelligence() {
	snap := s.dispatcher.Snapshot()
	if snap.UpdatedAt.IsZero() {
		return
	}
	rec := memory.IntelligenceRecord{
		Entities:    make([]memory.EntityRecord, len(snap.Entities)),
		Tactics:     snap.Tactics,
		ThreatScore: snap.ThreatScore,
		UpdatedAt:   snap.UpdatedAt,
	}
	for i, e := range snap.Entities {
		rec.Entities[i] = memory.EntityRecord{
			Kind:        string(e.Kind),
			Value:       e.Value,
			Confidence:  e.Confidence,
			FirstSeenAt: e.FirstSeenAt,
		}
	}
	s.archive(func(ctx context.Context, st memory.Store) error {
		return st.SaveIntelligence(ctx, s.callID, rec)
	})
}

// archive runs one best-effort persistence call in the background. A
// failing store never blocks the live call path.
func (s *Session) archive(op func(context.Context, memory.Store) error) {
	if s.collab.Store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := op(ctx, s.collab.Store); err != nil {
			s.log.Warn("session: archive write failed", "error", err)
		}
	}()
}
