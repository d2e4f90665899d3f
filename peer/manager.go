package peer

import (
	"sync"

	"github.com/luxfi/ids"
)

// PickPolicy decides which peers the scheduler should currently broadcast
// to. It is an external input (spec.md §4.5 step 1: "peer-picking policy is
// an external input"); the manager only stores and exposes liveness and
// broadcast bookkeeping, never the picking decision itself.
type PickPolicy interface {
	IsPicked(peer ids.NodeID) bool
}

// Manager owns the map of peer states. The map itself is guarded by an
// RWMutex; each State has its own lock so concurrent per-peer updates
// proceed without contending on the map lock (spec.md §5).
type Manager struct {
	mu    sync.RWMutex
	peers map[ids.NodeID]*State
}

// NewManager constructs an empty peer manager.
func NewManager() *Manager {
	return &Manager{peers: make(map[ids.NodeID]*State)}
}

// Get returns the state for peer, creating it (alive, zeroed) on first use.
func (m *Manager) Get(peer ids.NodeID) *State {
	m.mu.RLock()
	s, ok := m.peers[peer]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.peers[peer]; ok {
		return s
	}
	s = newState()
	m.peers[peer] = s
	return s
}

// Remove drops a peer's state entirely, e.g. on disconnect.
func (m *Manager) Remove(peer ids.NodeID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peer)
}

// Peers returns a snapshot of the currently tracked peer ids.
func (m *Manager) Peers() []ids.NodeID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ids.NodeID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	return out
}
