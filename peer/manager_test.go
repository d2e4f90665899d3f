package peer

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

func TestManager_GetCreatesAliveState(t *testing.T) {
	m := NewManager()
	var nodeID ids.NodeID
	nodeID[0] = 1

	s := m.Get(nodeID)
	require.True(t, s.IsAlive())

	// Same peer returns the same state.
	require.Same(t, s, m.Get(nodeID))
}

func TestManager_Remove(t *testing.T) {
	m := NewManager()
	var nodeID ids.NodeID
	nodeID[0] = 2

	m.Get(nodeID)
	require.Len(t, m.Peers(), 1)

	m.Remove(nodeID)
	require.Empty(t, m.Peers())
}
