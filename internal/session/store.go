package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found")

type entry struct {
	// gate serializes event steps for one call. Events for different calls
	// proceed in parallel; two in-flight events for the same call never
	// interleave transitions.
	gate sync.Mutex
	s    *CallSession
}

// Store is the registry of active call sessions keyed by provider call id.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*entry
	idleTimeout time.Duration
	onExpire    func(*CallSession)
}

func NewStore(idleTimeout time.Duration) *Store {
	if idleTimeout <= 0 {
		idleTimeout = 2 * time.Minute
	}
	return &Store{
		sessions:    make(map[string]*entry),
		idleTimeout: idleTimeout,
	}
}

// SetExpireHook registers the callback invoked for sessions evicted by the
// janitor. The hook runs outside the store lock.
func (st *Store) SetExpireHook(hook func(*CallSession)) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.onExpire = hook
}

// GetOrCreate returns the session for callID, invoking factory at most once
// when the id is new. Duplicate provider retries for the same call observe a
// single creation.
func (st *Store) GetOrCreate(callID string, factory func() *CallSession) (s *CallSession, created bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if e, ok := st.sessions[callID]; ok {
		return e.s, false
	}
	sess := factory()
	st.sessions[callID] = &entry{s: sess}
	return sess, true
}

// Get returns a copy of the session for diagnostic readers. Mutation happens
// only inside Step, so the copy is taken under the call's gate.
func (st *Store) Get(callID string) (*CallSession, error) {
	st.mu.RLock()
	e, ok := st.sessions[callID]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	e.gate.Lock()
	defer e.gate.Unlock()
	return clone(e.s), nil
}

// Step runs fn with exclusive ownership of the session for callID. A missing
// id returns ErrNotFound, which callers treat as a benign race with cleanup.
func (st *Store) Step(callID string, fn func(*CallSession) error) error {
	st.mu.RLock()
	e, ok := st.sessions[callID]
	st.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.gate.Lock()
	defer e.gate.Unlock()
	e.s.LastActivityAt = time.Now().UTC()
	return fn(e.s)
}

// StepSession is Step for sessions already obtained from GetOrCreate, so the
// creating webhook does not race its own lookup.
func (st *Store) StepSession(s *CallSession, fn func(*CallSession) error) error {
	return st.Step(s.CallID, fn)
}

// StepIfIdle runs fn under the call's gate only if the session is still idle
// past the store's timeout. The janitor selects candidates outside the gate;
// a caller event landing in between wins and the expiry becomes a no-op.
func (st *Store) StepIfIdle(callID string, fn func(*CallSession) error) error {
	st.mu.RLock()
	e, ok := st.sessions[callID]
	st.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	e.gate.Lock()
	defer e.gate.Unlock()
	if time.Now().UTC().Sub(e.s.LastActivityAt) < st.idleTimeout {
		return nil
	}
	return fn(e.s)
}

func (st *Store) Remove(callID string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, callID)
}

// Snapshot returns copies of all live sessions for diagnostics. Each copy is
// taken under its call's gate so a concurrent step never tears a read.
func (st *Store) Snapshot() []CallSession {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	out := make([]CallSession, 0, len(entries))
	for _, e := range entries {
		e.gate.Lock()
		out = append(out, *clone(e.s))
		e.gate.Unlock()
	}
	return out
}

func (st *Store) ActiveCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// StartJanitor sweeps idle sessions until ctx is done. Expired sessions are
// passed to the expire hook, which is expected to finalize and remove them.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.expireIdle()
			}
		}
	}()
}

func (st *Store) expireIdle() {
	now := time.Now().UTC()

	st.mu.RLock()
	hook := st.onExpire
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var expired []*CallSession
	for _, e := range entries {
		e.gate.Lock()
		s := e.s
		if now.Sub(s.LastActivityAt) >= st.idleTimeout {
			switch s.State {
			case StateAwaitingInput, StateProcessing, StateResponding, StateEnding, StateFailed:
				expired = append(expired, clone(s))
			}
		}
		e.gate.Unlock()
	}

	if hook == nil {
		return
	}
	for _, s := range expired {
		hook(s)
	}
}

// clone copies a session for readers outside the step gate. Campaign,
// notification, and outcome pointers are immutable once set; the turn history
// is copied because steps append to it.
func clone(s *CallSession) *CallSession {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	return &c
}
