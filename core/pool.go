package core

import (
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mapset "github.com/deckarep/golang-set/v2"
)

// senderState tracks the contiguous Ready prefix boundary for one sender:
// nextReadySeq is the next sequence number that, upon arrival, is promoted
// to Ready and walked forward over any already-buffered successors
// (spec.md §4.1, chain extension).
type senderState struct {
	entries      map[uint64]*PoolEntry
	nextReadySeq uint64
}

// Pool is the in-memory core pool: the authoritative set of pending
// transactions keyed by (sender, sequence). All mutating operations take
// the single pool lock for a short critical section and never hold it
// across a suspension point (spec.md §5).
type Pool struct {
	mu sync.Mutex

	capacity     int
	maxPerSender uint64 // buffered-ahead gap bound

	entries  map[TxnPointer]*PoolEntry
	bySender map[common.Address]*senderState
	timeline *Timeline

	insertionCounter uint64 // monotonic tie-break for get_block ordering
	evictions        uint64 // count of entries dropped by evictOne, for metrics
}

// NewPool constructs an empty pool with the given capacity and per-sender
// buffered-ahead gap bound (spec.md §6, `capacity` / `max_per_sender`).
func NewPool(capacity int, maxPerSender uint64) *Pool {
	return &Pool{
		capacity:     capacity,
		maxPerSender: maxPerSender,
		entries:      make(map[TxnPointer]*PoolEntry),
		bySender:     make(map[common.Address]*senderState),
		timeline:     NewTimeline(),
	}
}

func (p *Pool) sender(addr common.Address, committedSeq uint64) *senderState {
	s, ok := p.bySender[addr]
	if !ok {
		s = &senderState{entries: make(map[uint64]*PoolEntry), nextReadySeq: committedSeq}
		p.bySender[addr] = s
		return s
	}
	if committedSeq > s.nextReadySeq {
		s.nextReadySeq = committedSeq
	}
	return s
}

// AddTxn implements spec.md §4.1 add_txn. timelineState is accepted for API
// fidelity with the spec's signature; the authoritative Ready/NotReady
// classification is always derived from contiguous sequencing (see
// DESIGN.md: the hint cannot be used to bypass invariant 4, as scenario S2
// promotes out-of-order client submissions that are all passed NotReady).
func (p *Pool) AddTxn(txn Txn, score int64, committedSeq uint64, _ TimelineState, role GovernanceRole) MempoolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if txn.Sequence < committedSeq {
		return MempoolStatus{Code: InvalidSeqNumber}
	}

	ptr := TxnPointer{Sender: txn.Sender, Sequence: txn.Sequence}
	sender := p.sender(txn.Sender, committedSeq)

	if existing, ok := p.entries[ptr]; ok {
		// Resubmission of an in-pool pointer: replace the payload in place.
		// The slot's TimelineState/TimelineID are untouched so a live
		// timeline_id is never reassigned (invariant 2).
		existing.Txn = txn
		existing.RankingScore = score
		existing.GovernanceRole = role
		return MempoolStatus{Code: Accepted}
	}

	gap := txn.Sequence - sender.nextReadySeq
	if txn.Sequence >= sender.nextReadySeq && gap > p.maxPerSender {
		return MempoolStatus{Code: TooManyTransactions}
	}

	if len(p.entries) >= p.capacity {
		if !p.evictOne() {
			return MempoolStatus{Code: MempoolIsFull}
		}
	}

	entry := &PoolEntry{
		Txn:            txn,
		RankingScore:   score,
		GovernanceRole: role,
		TimelineState:  NotReady,
		InsertionTime:  now(),
		insertionRank:  p.insertionCounter,
	}
	p.insertionCounter++
	p.entries[ptr] = entry
	sender.entries[txn.Sequence] = entry

	p.promote(sender)

	return MempoolStatus{Code: Accepted}
}

// promote walks forward from sender.nextReadySeq, assigning timeline ids to
// any contiguous run of already-buffered NotReady entries.
func (p *Pool) promote(sender *senderState) {
	for {
		entry, ok := sender.entries[sender.nextReadySeq]
		if !ok || entry.TimelineState == Ready {
			break
		}
		entry.TimelineState = Ready
		entry.TimelineID = p.timeline.Assign(entry.Pointer())
		entry.hasTimelineID = true
		sender.nextReadySeq++
	}
}

// evictOne implements the full-pool eviction policy (spec.md §4.1 and the
// Open Question in §9): the lowest-ranked NotReady entry with no privileged
// governance role is evicted. Returns false if no entry is eligible, in
// which case the caller must report MempoolIsFull.
func (p *Pool) evictOne() bool {
	var victim *PoolEntry
	for _, e := range p.entries {
		if e.TimelineState != NotReady || e.GovernanceRole != RoleNone {
			continue
		}
		if victim == nil ||
			e.RankingScore < victim.RankingScore ||
			(e.RankingScore == victim.RankingScore && e.InsertionTime.Before(victim.InsertionTime)) {
			victim = e
		}
	}
	if victim == nil {
		return false
	}
	ptr := victim.Pointer()
	delete(p.entries, ptr)
	if s, ok := p.bySender[ptr.Sender]; ok {
		delete(s.entries, ptr.Sequence)
	}
	p.timeline.Remove(ptr)
	p.evictions++
	return true
}

// Evictions returns the cumulative count of entries dropped by evictOne
// (i.e. actual capacity evictions, not MempoolIsFull rejections where no
// eviction candidate existed). Used to drive the metrics.Set eviction
// counter from outside the pool's lock.
func (p *Pool) Evictions() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictions
}

// RemoveTransaction implements spec.md §4.1 remove_transaction. When
// isRejected is true, every higher-sequence entry for the same sender is
// also dropped, and the sender's contiguous-prefix boundary is rolled back
// to seq so a future resubmission at that sequence promotes correctly.
func (p *Pool) RemoveTransaction(sender common.Address, seq uint64, isRejected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.removeLocked(sender, seq)
	if !isRejected {
		return
	}

	s, ok := p.bySender[sender]
	if !ok {
		return
	}
	for higherSeq := range s.entries {
		if higherSeq >= seq {
			p.removeLocked(sender, higherSeq)
		}
	}
	if s.nextReadySeq > seq {
		s.nextReadySeq = seq
	}
}

func (p *Pool) removeLocked(sender common.Address, seq uint64) {
	ptr := TxnPointer{Sender: sender, Sequence: seq}
	if _, ok := p.entries[ptr]; !ok {
		return
	}
	delete(p.entries, ptr)
	if s, ok := p.bySender[sender]; ok {
		delete(s.entries, seq)
	}
	p.timeline.Remove(ptr)
}

// GCByExpirationTime implements spec.md §4.1 gc_by_expiration_time: every
// entry whose expiration is at or before now is dropped.
func (p *Pool) GCByExpirationTime(nowUs uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for ptr, e := range p.entries {
		if e.Txn.ExpirationUs <= nowUs {
			delete(p.entries, ptr)
			if s, ok := p.bySender[ptr.Sender]; ok {
				delete(s.entries, ptr.Sequence)
			}
			p.timeline.Remove(ptr)
		}
	}
}

// ReadTimeline implements spec.md §4.1 read_timeline.
func (p *Pool) ReadTimeline(afterID uint64, max int) ([]SubmissionStatus, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	items, newAfter := p.timeline.Read(afterID, max)
	return p.resolveLocked(items), newAfter
}

// FilterReadTimeline implements spec.md §4.1 filter_read_timeline.
func (p *Pool) FilterReadTimeline(ids []uint64) []SubmissionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := p.timeline.FilterRead(ids)
	return p.resolveLocked(items)
}

// TimelineEntry pairs a timeline id with its resolved transaction, used by
// the broadcast scheduler to remember which ids a sent batch contains so a
// later ACK's retry indices can be translated back (spec.md §4.5).
type TimelineEntry struct {
	ID  uint64
	Txn Txn
}

// ReadTimelineEntries is ReadTimeline with the timeline id preserved
// alongside each resolved transaction.
func (p *Pool) ReadTimelineEntries(afterID uint64, max int) ([]TimelineEntry, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	items, newAfter := p.timeline.Read(afterID, max)
	return p.resolveEntriesLocked(items), newAfter
}

// FilterReadTimelineEntries is FilterReadTimeline with the timeline id
// preserved alongside each resolved transaction.
func (p *Pool) FilterReadTimelineEntries(ids []uint64) []TimelineEntry {
	p.mu.Lock()
	defer p.mu.Unlock()

	items := p.timeline.FilterRead(ids)
	return p.resolveEntriesLocked(items)
}

func (p *Pool) resolveLocked(items []TimelineItem) []SubmissionStatus {
	out := make([]SubmissionStatus, 0, len(items))
	for _, it := range items {
		e, ok := p.entries[it.Ptr]
		if !ok {
			continue
		}
		out = append(out, SubmissionStatus{Txn: e.Txn, Status: MempoolStatus{Code: Accepted}})
	}
	return out
}

func (p *Pool) resolveEntriesLocked(items []TimelineItem) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(items))
	for _, it := range items {
		e, ok := p.entries[it.Ptr]
		if !ok {
			continue
		}
		out = append(out, TimelineEntry{ID: it.ID, Txn: e.Txn})
	}
	return out
}

// TimelineIDFor returns the id a given pointer's entry holds, if it is
// currently Ready.
func (p *Pool) TimelineIDFor(ptr TxnPointer) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[ptr]
	if !ok || e.TimelineState != Ready {
		return 0, false
	}
	return e.TimelineID, true
}

// EarliestTimelineID returns the pool's earliest live timeline id, used for
// peer broadcast diagnostics (spec.md §4.2).
func (p *Pool) EarliestTimelineID() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeline.EarliestLiveID()
}

// Size returns the number of live entries (invariant 5: Size() <= capacity).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// GetBlock implements spec.md §4.1 get_block: up to maxSize Ready entries
// ordered by (governance_role desc, ranking_score desc, insertion_time
// asc), excluding any pointer present in exclude. Entries are not removed.
//
// Ordering is an explicit three-key comparator over sort.Slice rather than
// a single packed priority: the three sort keys (a bounded enum, an
// arbitrary-range int64 ranking score, and a monotonic insertion counter)
// have no combined bit-width that is safe to pack into one ordered scalar
// without risking one key's range bleeding into another's once any of them
// gets large — sort.Slice's comparator compares each key on its own terms
// and can never overflow or invert priority.
func (p *Pool) GetBlock(maxSize int, exclude mapset.Set[TxnPointer]) []Txn {
	p.mu.Lock()
	defer p.mu.Unlock()

	if maxSize < 1 {
		maxSize = 1
	}
	if exclude == nil {
		exclude = mapset.NewThreadUnsafeSet[TxnPointer]()
	}

	candidates := make([]*PoolEntry, 0, len(p.entries))
	for ptr, e := range p.entries {
		if e.TimelineState != Ready || exclude.Contains(ptr) {
			continue
		}
		candidates = append(candidates, e)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.GovernanceRole != b.GovernanceRole {
			return a.GovernanceRole > b.GovernanceRole
		}
		if a.RankingScore != b.RankingScore {
			return a.RankingScore > b.RankingScore
		}
		return a.insertionRank < b.insertionRank
	})

	if len(candidates) > maxSize {
		candidates = candidates[:maxSize]
	}
	out := make([]Txn, len(candidates))
	for i, e := range candidates {
		out[i] = e.Txn
	}
	return out
}

func now() time.Time { return time.Now() }
