package session

import (
	"sync"
	"time"

	"github.com/apiarysec/stinger/internal/intel"
)

// State is the accumulated view of one conversation. Evidence and the
// scam-confirmed flag only ever grow; nothing a later turn reports can shrink
// either.
type State struct {
	SessionID     string
	Evidence      intel.Set
	TurnCount     int
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
	ScamConfirmed bool
}

// EngagementDuration is the wall-clock span between the first and most recent
// turn of the session.
func (s State) EngagementDuration() time.Duration {
	return s.LastSeenAt.Sub(s.FirstSeenAt)
}

type entry struct {
	mu    sync.Mutex
	state State
}

// Registry holds per-session accumulators partitioned by session id. Turns
// for the same session serialize on the entry's own lock; turns for different
// sessions never contend with each other beyond the map lookup.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      time.Now,
	}
}

func (r *Registry) lookupOrCreate(sessionID string, now time.Time) *entry {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sessionID]; ok {
		return e
	}
	e = &entry{state: State{SessionID: sessionID, FirstSeenAt: now}}
	r.sessions[sessionID] = e
	return e
}

// ApplyTurn folds one processed turn into the session: evidence is merged in,
// the turn counter advances, last-seen moves forward, and a true scam signal
// latches permanently. The returned state is an independent snapshot.
func (r *Registry) ApplyTurn(sessionID string, incoming intel.Set, scamSignal bool) State {
	now := r.now()
	e := r.lookupOrCreate(sessionID, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Evidence = intel.Merge(e.state.Evidence, incoming)
	e.state.TurnCount++
	e.state.LastSeenAt = now
	e.state.ScamConfirmed = e.state.ScamConfirmed || scamSignal

	return snapshot(e.state)
}

// Snapshot returns a copy of a session's state, if it exists.
func (r *Registry) Snapshot(sessionID string) (State, bool) {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.state), true
}

// Len reports how many sessions are being tracked.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func snapshot(s State) State {
	out := s
	out.Evidence = s.Evidence.Clone()
	return out
}
