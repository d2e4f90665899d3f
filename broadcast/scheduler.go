// Package broadcast implements the per-peer broadcast scheduler
// (spec.md §4.5): retry-first batch assembly, send, ACK bookkeeping, and
// backoff-aware rescheduling. Grounded on
// shared_mempool/tasks.rs::execute_broadcast/broadcast_single_peer, with the
// network send itself modeled on plugin/evm/gossip_eth_tx.go's
// fire-and-forget peer push.
package broadcast

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"

	"github.com/luxfi/sharedmempool/core"
	"github.com/luxfi/sharedmempool/metrics"
	"github.com/luxfi/sharedmempool/network"
	"github.com/luxfi/sharedmempool/peer"
)

// Config is the scheduler's tunable behavior (spec.md §6).
type Config struct {
	TickInterval    time.Duration // normal broadcast cadence, per peer
	BackoffInterval time.Duration // cadence while a peer is in backoff mode (invariant 7)
	BatchSize       int           // max transactions per broadcast batch
	AckTimeout      time.Duration // how long a sent batch waits before its contents are re-flagged for retry
}

// BatchSentEvent is sent on Scheduler.Feed after a batch is successfully
// handed to the network layer (subscriber notification, spec.md §4.5).
type BatchSentEvent struct {
	Peer  ids.NodeID
	Count int
}

// Scheduler runs one broadcast task per picked, live peer, assembling and
// sending batches on an interval that widens under backoff (spec.md §4.5,
// §4.5 invariant 7).
type Scheduler struct {
	pool    *core.Pool
	peers   *peer.Manager
	policy  peer.PickPolicy
	sender  network.Sender
	metrics *metrics.Set
	log     log.Logger
	cfg     Config

	Feed event.Feed
}

// New constructs a Scheduler.
func New(pool *core.Pool, peers *peer.Manager, policy peer.PickPolicy, sender network.Sender, m *metrics.Set, logger log.Logger, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Scheduler{pool: pool, peers: peers, policy: policy, sender: sender, metrics: m, log: logger, cfg: cfg}
}

// Run drives one peer's broadcast task until ctx is cancelled, ticking at
// TickInterval or, while the peer is in backoff mode, at BackoffInterval
// (spec.md §4.5 invariant 7: backoff is sticky across the interval, not
// cleared the moment a send succeeds).
func (s *Scheduler) Run(ctx context.Context, peerID ids.NodeID) {
	state := s.peers.Get(peerID)
	timer := time.NewTimer(s.cfg.TickInterval)
	defer timer.Stop()

	// dispatchedBackoff tracks whether the tick about to fire was scheduled
	// while the peer was in backoff mode (spec.md §4.5 step 3). The first
	// tick is always dispatched non-backoff.
	dispatchedBackoff := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			state.ExpireStaleBatches(time.Now(), s.cfg.AckTimeout)

			if s.policy != nil && !s.policy.IsPicked(peerID) {
				// Step 1: not currently picked — schedule next tick as
				// non-backoff and return, independent of backoff_mode.
				dispatchedBackoff = false
				timer.Reset(s.cfg.TickInterval)
				continue
			}

			s.broadcastOnce(ctx, peerID, state, dispatchedBackoff)

			// Step 2: reschedule preserving current backoff_mode.
			if state.BackoffMode() {
				dispatchedBackoff = true
				timer.Reset(s.cfg.BackoffInterval)
			} else {
				dispatchedBackoff = false
				timer.Reset(s.cfg.TickInterval)
			}
		}
	}
}

// broadcastOnce implements spec.md §4.5 steps 2-6 for a single peer: skip
// if not alive, assemble retry-first then fresh-padded batch, send, and
// record the outcome. A transport failure leaves the peer's timeline_id
// and sent-batch bookkeeping untouched so the next tick resends the exact
// same work (spec.md scenario S6).
//
// dispatchedBackoff reports whether this invocation was scheduled while
// the peer was in backoff mode. If it was scheduled non-backoff but the
// peer's backoff_mode has since flipped true (e.g. an ACK landed between
// the tick firing and this call), step 3 requires dropping the send
// entirely rather than broadcasting on a stale non-backoff decision.
func (s *Scheduler) broadcastOnce(ctx context.Context, peerID ids.NodeID, state *peer.State, dispatchedBackoff bool) {
	if !state.IsAlive() {
		return
	}
	if !dispatchedBackoff && state.BackoffMode() {
		return
	}

	oldTimelineID := state.TimelineID()
	newTimelineID := oldTimelineID

	var entries []core.TimelineEntry
	numRetried := 0

	if retryIDs := state.RetryIDs(); len(retryIDs) > 0 {
		retryEntries := s.pool.FilterReadTimelineEntries(retryIDs)
		entries = append(entries, retryEntries...)
		numRetried = len(retryEntries)
	}

	if remaining := s.cfg.BatchSize - len(entries); remaining > 0 {
		fresh, freshAfter := s.pool.ReadTimelineEntries(oldTimelineID, remaining)
		entries = append(entries, fresh...)
		newTimelineID = freshAfter
	}
	if len(entries) > s.cfg.BatchSize {
		entries = entries[:s.cfg.BatchSize]
	}
	if numRetried > len(entries) {
		numRetried = len(entries)
	}
	if len(entries) == 0 {
		return
	}

	txns := make([]core.Txn, len(entries))
	ids2 := make([]uint64, len(entries))
	for i, e := range entries {
		txns[i] = e.Txn
		ids2[i] = e.ID
	}
	// Retry entries lead the batch, so only the retry ids that survived the
	// BatchSize cut are cleared from the peer's retry set.
	retriedIDs := ids2[:numRetried]

	// batch_id = (old_timeline_id, new_timeline_id): the watermark this
	// peer was at before the send, and the watermark it advances to after
	// (spec.md §4.5 step 5, scenario S3). It is not the min/max timeline id
	// actually carried in the batch — a retry can carry an id below
	// old_timeline_id, which batch_id must not reflect.
	batchID := peer.BatchId{Start: oldTimelineID, End: newTimelineID}
	req := network.NewBroadcastRequest(batchID.Encode(), txns)

	if err := s.sender.SendTo(ctx, peerID, req); err != nil {
		if s.metrics != nil {
			s.metrics.TransportErrors.WithLabelValues(peerID.String()).Inc()
		}
		s.log.Warn("broadcast send failed", "peer", peerID, "error", err)
		return
	}

	state.RecordBroadcast(batchID, ids2, newTimelineID, time.Now(), retriedIDs)

	if s.metrics != nil {
		s.metrics.BroadcastsSent.WithLabelValues(peerID.String()).Inc()
		s.metrics.BroadcastBytes.WithLabelValues(peerID.String()).Add(float64(len(txns)))
	}
	s.Feed.Send(BatchSentEvent{Peer: peerID, Count: len(txns)})
}

// HandleAck applies a peer's broadcast response to its tracked state
// (spec.md §4.5). Returns false if the batch was unknown (already expired
// or foreign), in which case the response is silently ignored.
func (s *Scheduler) HandleAck(peerID ids.NodeID, requestID []byte, retryIdx []uint64, backoff bool) bool {
	return s.peers.Get(peerID).HandleResponse(requestID, retryIdx, backoff)
}
