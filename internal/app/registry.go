package app

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/drazan/huddle/internal/core"
)

// PeerSession binds one peer's identity to its transport connection.
// Entries are exclusively owned by the Registry; other components borrow
// references and address sessions by id only.
type PeerSession struct {
	ID       core.SessionID
	Username string
	// ClientID correlates the session with its out-of-band signaling channel.
	ClientID string
	Media    core.MediaConnection

	state atomic.Int32
}

func (s *PeerSession) State() core.ConnState {
	return core.ConnState(s.state.Load())
}

func (s *PeerSession) SetState(st core.ConnState) {
	s.state.Store(int32(st))
}

// Registry owns peer-session lifecycle and metadata.
// Mutations never block on I/O; fan-out callers iterate over snapshots.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*PeerSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*PeerSession)}
}

// NewSessionID mints an opaque session id.
func NewSessionID() core.SessionID {
	return core.SessionID(uuid.NewString())
}

// Create registers a new session under sid and returns it. The session
// starts in StateNew.
func (r *Registry) Create(sid core.SessionID, username, clientID string, media core.MediaConnection) *PeerSession {
	sess := &PeerSession{
		ID:       sid,
		Username: username,
		ClientID: clientID,
		Media:    media,
	}
	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID)).Str("username", username).Msg("session created")
	return sess
}

func (r *Registry) Get(sid core.SessionID) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// Remove deletes a session and marks it StateRemoved. Returns the removed
// entry so the caller can release transport resources.
func (r *Registry) Remove(sid core.SessionID) (*PeerSession, bool) {
	r.mu.Lock()
	s, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	s.SetState(core.StateRemoved)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session removed")
	return s, true
}

// List returns a snapshot of all sessions. Safe to iterate while the
// registry is concurrently mutated.
func (r *Registry) List() []*PeerSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain removes every session at once and returns them, for shutdown.
func (r *Registry) Drain() []*PeerSession {
	r.mu.Lock()
	out := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.sessions = make(map[core.SessionID]*PeerSession)
	r.mu.Unlock()
	for _, s := range out {
		s.SetState(core.StateRemoved)
	}
	return out
}
