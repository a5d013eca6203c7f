package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kavachlabs/kavach/internal/wire"
)

// Registry is the id to session map. Mutations are serialised per call id
// by routing them through the session actors; the map itself is guarded by
// a single mutex, which only covers lookups and insertions.
type Registry struct {
	cfg    Config
	collab Collaborators
	log    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	ending   map[*Session]struct{}
	closed   bool
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, collab Collaborators, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		cfg:      cfg,
		collab:   collab,
		log:      log,
		sessions: make(map[string]*Session),
		ending:   make(map[*Session]struct{}),
	}
}

// Attach binds conn as the given role of callID, creating the session on
// first attach. An attach that races an ending session creates a fresh
// incarnation; the caller never sees the prior one.
func (r *Registry) Attach(ctx context.Context, callID string, role wire.Role, conn Conn) error {
	if callID == "" {
		return fmt.Errorf("broker: empty call id")
	}
	if !role.IsValid() {
		return fmt.Errorf("broker: invalid role %q", role)
	}

	for {
		s, err := r.lookupOrCreate(callID)
		if err != nil {
			return err
		}
		err = s.Attach(ctx, role, conn)
		if err == ErrUnknownCall {
			// The session ended between lookup and attach; retry against a
			// fresh incarnation.
			r.remove(callID, s)
			continue
		}
		return err
	}
}

// End requests orderly teardown of callID's session.
func (r *Registry) End(callID string) error {
	r.mu.Lock()
	s := r.sessions[callID]
	r.mu.Unlock()
	if s == nil {
		return ErrUnknownCall
	}
	s.End()
	return nil
}

// Status reports the control-plane view of callID's session.
func (r *Registry) Status(ctx context.Context, callID string) (Status, error) {
	r.mu.Lock()
	s := r.sessions[callID]
	r.mu.Unlock()
	if s == nil {
		return Status{}, ErrUnknownCall
	}
	return s.Status(ctx)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close ends every session and waits for their teardown, bounded by ctx.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*Session, 0, len(r.sessions)+len(r.ending))
	for _, s := range r.sessions {
		live = append(live, s)
	}
	for s := range r.ending {
		live = append(live, s)
	}
	r.mu.Unlock()

	for _, s := range live {
		s.End()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) lookupOrCreate(callID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrUnknownCall
	}
	if s := r.sessions[callID]; s != nil {
		return s, nil
	}
	if len(r.sessions) >= r.cfg.MaxSessions {
		return nil, ErrSessionLimit
	}
	var s *Session
	s = newSession(callID, r.cfg, r.collab, r.log, func(id string) {
		r.retire(id, s)
	})
	r.sessions[callID] = s
	return s, nil
}

// retire drops callID from the live map the moment its session transitions
// to Ended, guarded so a fresh incarnation under the same id is never
// evicted, and tracks the session until teardown completes so [Close] can
// still wait on calls that ended just before shutdown.
func (r *Registry) retire(callID string, s *Session) {
	r.mu.Lock()
	if r.sessions[callID] == s {
		delete(r.sessions, callID)
	}
	r.ending[s] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		delete(r.ending, s)
		r.mu.Unlock()
	}()
}

// remove drops callID from the map. When expect is non-nil the entry is
// only removed if it still points at that incarnation.
func (r *Registry) remove(callID string, expect *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if expect != nil && r.sessions[callID] != expect {
		return
	}
	delete(r.sessions, callID)
}
