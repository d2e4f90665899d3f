// Package peer tracks per-peer broadcast state: liveness, the last
// timeline position sent, outstanding batches, retry-eligible ids, and
// backoff mode (spec.md §3, PeerState / §4.5, Broadcast Scheduler).
package peer

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/luxfi/geth/rlp"
)

// ackReplayCacheSize bounds the recently-processed-request_id cache each
// peer keeps to make a duplicated/replayed ACK (e.g. a retransmitted
// frame from a lower transport layer) a no-op instead of double-counting
// retries (spec.md §4.5 diagnostics/robustness; not a correctness
// requirement since a second lookup of an already-removed batch record is
// already defined as "ignore").
const ackReplayCacheSize = 256

// BatchId identifies one broadcast batch by the timeline range it spans.
// It is RLP-encoded to produce the wire-opaque request_id (spec.md §6):
// RLP's canonical, position-stable list encoding is exactly the
// "canonical binary, position-stable field order" the wire format calls
// for, and reuses the teacher's own codec
// (github.com/luxfi/geth/rlp, as used by plugin/evm/gossip_eth_tx.go).
type BatchId struct {
	Start uint64
	End   uint64
}

// Encode serializes the BatchId to its opaque request_id form. Because the
// struct's fields are fixed and always RLP-encodable, a failure here is a
// FatalInvariantViolation (spec.md §9 Open Questions), not a recoverable
// error — it can only mean the BatchId type itself has been corrupted.
func (b BatchId) Encode() []byte {
	data, err := rlp.EncodeToBytes(b)
	if err != nil {
		panic("peer: BatchId is not RLP-encodable: " + err.Error())
	}
	return data
}

// DecodeBatchId parses a request_id previously produced by Encode. An error
// here means the peer sent a malformed or foreign request_id; callers treat
// it as "unknown batch" and ignore the response (spec.md §4.5).
func DecodeBatchId(requestID []byte) (BatchId, error) {
	var b BatchId
	err := rlp.DecodeBytes(requestID, &b)
	return b, err
}

// sentBatch records one in-flight broadcast awaiting ACK.
type sentBatch struct {
	timelineIDs []uint64
	sendTime    time.Time
}

// BroadcastInfo is the mutable broadcast bookkeeping for one peer.
type BroadcastInfo struct {
	mu             sync.Mutex
	sentBatches    map[BatchId]sentBatch
	totalRetryTxns mapset.Set[uint64]
	backoffMode    bool
	ackSeen        *lru.Cache // request_id -> struct{}, replay guard (spec.md §4.15)
}

func newBroadcastInfo() *BroadcastInfo {
	cache, err := lru.New(ackReplayCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// ackReplayCacheSize never is.
		panic("peer: ack replay cache: " + err.Error())
	}
	return &BroadcastInfo{
		sentBatches:    make(map[BatchId]sentBatch),
		totalRetryTxns: mapset.NewThreadUnsafeSet[uint64](),
		ackSeen:        cache,
	}
}

// State is one peer's liveness and broadcast bookkeeping. Each State has
// its own lock so per-peer updates proceed in parallel (spec.md §5).
type State struct {
	mu sync.RWMutex

	isAlive    bool
	timelineID uint64

	broadcast *BroadcastInfo
}

func newState() *State {
	return &State{
		isAlive:   true,
		broadcast: newBroadcastInfo(),
	}
}

// IsAlive reports the peer's liveness.
func (s *State) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAlive
}

// SetAlive updates the peer's liveness.
func (s *State) SetAlive(alive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isAlive = alive
}

// TimelineID returns the last timeline position sent to this peer.
func (s *State) TimelineID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timelineID
}

// BackoffMode reports whether the peer's next scheduled broadcast should
// use the backoff interval (spec.md §4.5 / invariant 7).
func (s *State) BackoffMode() bool {
	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()
	return s.broadcast.backoffMode
}

// RetryIDs returns a snapshot of the timeline ids flagged for resend.
func (s *State) RetryIDs() []uint64 {
	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()
	return s.broadcast.totalRetryTxns.ToSlice()
}

// RecordBroadcast records a freshly sent batch, advances timelineID, and
// clears the retry ids that were folded into the batch (spec.md §4.5 step
// 6).
func (s *State) RecordBroadcast(id BatchId, timelineIDs []uint64, newTimelineID uint64, sentAt time.Time, retriedIDs []uint64) {
	s.mu.Lock()
	s.timelineID = newTimelineID
	s.mu.Unlock()

	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()
	s.broadcast.sentBatches[id] = sentBatch{timelineIDs: timelineIDs, sendTime: sentAt}
	for _, rid := range retriedIDs {
		s.broadcast.totalRetryTxns.Remove(rid)
	}
}

// HandleResponse applies an ACK (spec.md §4.5): unknown batches are
// ignored; otherwise the batch record is removed, its acked-retry indices
// are translated to timeline ids and folded into total_retry_txns, and
// backoff_mode is updated for the *next* scheduled broadcast.
func (s *State) HandleResponse(requestID []byte, retryIdx []uint64, backoff bool) (handled bool) {
	id, err := DecodeBatchId(requestID)
	if err != nil {
		return false
	}

	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()

	key := string(requestID)
	if s.broadcast.ackSeen.Contains(key) {
		return false
	}
	s.broadcast.ackSeen.Add(key, struct{}{})

	batch, ok := s.broadcast.sentBatches[id]
	if !ok {
		return false
	}
	for _, idx := range retryIdx {
		if int(idx) < len(batch.timelineIDs) {
			s.broadcast.totalRetryTxns.Add(batch.timelineIDs[int(idx)])
		}
	}
	delete(s.broadcast.sentBatches, id)
	s.broadcast.backoffMode = backoff
	return true
}

// ExpireStaleBatches drops batches older than ackTimeout and flags their
// contents for retry (spec.md §4.5, stale-batch expiry).
func (s *State) ExpireStaleBatches(now time.Time, ackTimeout time.Duration) {
	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()

	for id, batch := range s.broadcast.sentBatches {
		if now.Sub(batch.sendTime) <= ackTimeout {
			continue
		}
		for _, tid := range batch.timelineIDs {
			s.broadcast.totalRetryTxns.Add(tid)
		}
		delete(s.broadcast.sentBatches, id)
	}
}

// TimelineIDsForBatch returns a copy of the timeline ids recorded for a
// batch still awaiting its ACK.
func (s *State) TimelineIDsForBatch(id BatchId) ([]uint64, bool) {
	s.broadcast.mu.Lock()
	defer s.broadcast.mu.Unlock()
	b, ok := s.broadcast.sentBatches[id]
	if !ok {
		return nil, false
	}
	out := make([]uint64, len(b.timelineIDs))
	copy(out, b.timelineIDs)
	return out, true
}
