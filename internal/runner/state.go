package runner

import (
	"sync"
	"time"

	"github.com/banksia-harness/banksia/pkg/types"
)

// State is the single shared holder of the active run. Every reader and
// writer, the HTTP handlers and the tick loop alike, goes through its lock.
type State struct {
	mu sync.Mutex

	proc            *ActiveTestProcedure
	requestHistory  []types.RequestEntry
	lastInteraction *types.ClientInteraction
}

// NewState returns an empty state with no active run.
func NewState() *State {
	return &State{}
}

// Lock takes the state lock. Callers must Unlock when done.
func (s *State) Lock() { s.mu.Lock() }

// Unlock releases the state lock.
func (s *State) Unlock() { s.mu.Unlock() }

// Procedure returns the active run, or nil. Caller must hold the lock.
func (s *State) Procedure() *ActiveTestProcedure { return s.proc }

// SetProcedure installs a new active run and clears any accumulated history
// from a previous run. Caller must hold the lock.
func (s *State) SetProcedure(p *ActiveTestProcedure) {
	s.proc = p
	s.requestHistory = nil
	s.lastInteraction = nil
}

// ClearProcedure drops the active run. Caller must hold the lock.
func (s *State) ClearProcedure() { s.proc = nil }

// RecordRequest appends one proxied request to the history. Caller must hold
// the lock.
func (s *State) RecordRequest(entry types.RequestEntry) {
	s.requestHistory = append(s.requestHistory, entry)
}

// RequestHistory returns a copy of the accumulated history. Caller must hold
// the lock.
func (s *State) RequestHistory() []types.RequestEntry {
	out := make([]types.RequestEntry, len(s.requestHistory))
	copy(out, s.requestHistory)
	return out
}

// RecordInteraction notes the most recent client interaction. Caller must
// hold the lock.
func (s *State) RecordInteraction(kind types.ClientInteractionType, now time.Time) {
	s.lastInteraction = &types.ClientInteraction{Type: kind, Timestamp: now}
}

// LastInteraction returns the most recent client interaction, or nil. Caller
// must hold the lock.
func (s *State) LastInteraction() *types.ClientInteraction { return s.lastInteraction }
