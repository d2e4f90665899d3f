package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/sharedmempool/core"
	"github.com/luxfi/sharedmempool/network"
	"github.com/luxfi/sharedmempool/peer"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []network.BroadcastTransactionsRequest
	failNext bool
}

func (f *fakeSender) SendTo(_ context.Context, _ ids.NodeID, msg network.BroadcastTransactionsRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("transport down")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func nodeID(b byte) ids.NodeID {
	var n ids.NodeID
	n[0] = b
	return n
}

func TestBroadcastOnce_SendsFreshTimelineEntries(t *testing.T) {
	pool := core.NewPool(100, 10)
	var addr [20]byte
	addr[0] = 7
	status := pool.AddTxn(core.Txn{Sender: addr, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)
	require.Equal(t, core.Accepted, status.Code)

	peers := peer.NewManager()
	sender := &fakeSender{}
	s := New(pool, peers, nil, sender, nil, log.New(), Config{TickInterval: time.Second, BackoffInterval: 5 * time.Second, BatchSize: 10, AckTimeout: time.Minute})

	peerID := nodeID(1)
	s.broadcastOnce(context.Background(), peerID, peers.Get(peerID), false)

	require.Equal(t, 1, sender.count())
	require.Equal(t, uint64(1), peers.Get(peerID).TimelineID()) // sent batch covers id 1 (ids start at 1, not 0)
}

func TestBroadcastOnce_TransportFailureLeavesStateUnchanged_S6(t *testing.T) {
	pool := core.NewPool(100, 10)
	var addr [20]byte
	addr[0] = 8
	pool.AddTxn(core.Txn{Sender: addr, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)

	peers := peer.NewManager()
	sender := &fakeSender{failNext: true}
	s := New(pool, peers, nil, sender, nil, log.New(), Config{TickInterval: time.Second, BackoffInterval: 5 * time.Second, BatchSize: 10, AckTimeout: time.Minute})

	peerID := nodeID(2)
	state := peers.Get(peerID)
	s.broadcastOnce(context.Background(), peerID, state, false)
	require.Equal(t, 0, sender.count())
	require.Equal(t, uint64(0), state.TimelineID())

	// Retry: same work resent, this time succeeding.
	s.broadcastOnce(context.Background(), peerID, state, false)
	require.Equal(t, 1, sender.count())
}

func TestBroadcastOnce_RetryFirstThenPadsWithFresh(t *testing.T) {
	pool := core.NewPool(100, 10)
	var a, b [20]byte
	a[0], b[0] = 1, 2
	pool.AddTxn(core.Txn{Sender: a, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)
	pool.AddTxn(core.Txn{Sender: b, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)

	peers := peer.NewManager()
	sender := &fakeSender{}
	s := New(pool, peers, nil, sender, nil, log.New(), Config{TickInterval: time.Second, BackoffInterval: time.Second, BatchSize: 10, AckTimeout: time.Minute})
	peerID := nodeID(3)
	state := peers.Get(peerID)

	// First broadcast sends both ids 1 and 2 (ids start at 1, not 0), covering
	// the old_timeline_id..new_timeline_id span (0, 2).
	s.broadcastOnce(context.Background(), peerID, state, false)
	require.Equal(t, 1, sender.count())

	// Simulate an ACK flagging index 0 (timeline id 1) for retry and backoff.
	batchID := peer.BatchId{Start: 0, End: 2}
	ok := state.HandleResponse(batchID.Encode(), []uint64{0}, true)
	require.True(t, ok)
	require.True(t, state.BackoffMode())

	// A fresh entry (timeline id 3) arrives after the ACK.
	var c [20]byte
	c[0] = 3
	pool.AddTxn(core.Txn{Sender: c, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)

	// Dispatched as backoff (as Run would after observing BackoffMode()),
	// the retry-flagged id is resent first and the batch is padded with the
	// fresh entry.
	s.broadcastOnce(context.Background(), peerID, state, true)
	require.Equal(t, 2, sender.count())
	second := sender.sent[1].Transactions
	require.Len(t, second, 2)
	require.Equal(t, a, second[0].Sender)
	require.Equal(t, c, second[1].Sender)
}

// TestBroadcastOnce_DropsWhenDispatchedNonBackoffButStateIsBackoff covers
// spec.md §4.5 step 3: a tick dispatched as non-backoff must not send if
// the peer's backoff_mode has since flipped true.
func TestBroadcastOnce_DropsWhenDispatchedNonBackoffButStateIsBackoff(t *testing.T) {
	pool := core.NewPool(100, 10)
	var addr [20]byte
	addr[0] = 9
	pool.AddTxn(core.Txn{Sender: addr, Sequence: 0, GasAmount: zero(), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)

	peers := peer.NewManager()
	sender := &fakeSender{}
	s := New(pool, peers, nil, sender, nil, log.New(), Config{TickInterval: time.Second, BackoffInterval: time.Second, BatchSize: 10, AckTimeout: time.Minute})
	peerID := nodeID(4)
	state := peers.Get(peerID)

	s.broadcastOnce(context.Background(), peerID, state, false)
	require.Equal(t, 1, sender.count())

	// First broadcast's batch_id spans (old_timeline_id=0, new_timeline_id=1):
	// the single entry was assigned id 1 (ids start at 1, not 0).
	batchID := peer.BatchId{Start: 0, End: 1}
	ok := state.HandleResponse(batchID.Encode(), nil, true)
	require.True(t, ok)
	require.True(t, state.BackoffMode())

	// Dispatched as non-backoff despite the state now being in backoff
	// mode: must drop, not send.
	s.broadcastOnce(context.Background(), peerID, state, false)
	require.Equal(t, 1, sender.count())
}

func zero() *uint256.Int { return uint256.NewInt(0) }
