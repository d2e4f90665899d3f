package core

import "sort"

// timelineRecord is one slot of the append-only timeline log. Records are
// appended in strictly increasing id order and never reordered; removal
// only tombstones a record, it never compacts the slice, so ids are never
// reused (spec.md §3, Timeline).
type timelineRecord struct {
	id      uint64
	ptr     TxnPointer
	removed bool
}

// Timeline is the append-only log of Ready-admissions. It assigns
// monotonically increasing timeline ids and supports range reads and
// selective re-reads (for retries), skipping tombstoned entries.
//
// Timeline is not safe for concurrent use on its own; callers (core.Pool)
// serialize access under the pool lock, matching spec.md §5's requirement
// that timeline_id assignment is serialized by the pool lock.
type Timeline struct {
	nextID     uint64
	records    []timelineRecord
	indexByPtr map[TxnPointer]int // pointer -> index into records
}

// NewTimeline constructs an empty timeline. Ids start at 1, not 0: 0 is the
// below-all sentinel a fresh peer watermark and read_timeline(0, ...) use to
// mean "nothing sent yet" (spec.md §4.2's earliest_timeline_id probe relies
// on the same convention), so id 0 itself must never be assigned or it can
// never be read back past that sentinel.
func NewTimeline() *Timeline {
	return &Timeline{
		nextID:     1,
		indexByPtr: make(map[TxnPointer]int),
	}
}

// Assign appends ptr to the timeline and returns its freshly minted,
// strictly-increasing timeline id.
func (tl *Timeline) Assign(ptr TxnPointer) uint64 {
	id := tl.nextID
	tl.nextID++
	tl.records = append(tl.records, timelineRecord{id: id, ptr: ptr})
	tl.indexByPtr[ptr] = len(tl.records) - 1
	return id
}

// Remove tombstones ptr's timeline slot, if it has one. read_timeline will
// no longer surface it.
func (tl *Timeline) Remove(ptr TxnPointer) {
	idx, ok := tl.indexByPtr[ptr]
	if !ok {
		return
	}
	tl.records[idx].removed = true
	delete(tl.indexByPtr, ptr)
}

// TimelineItem is one live (id, pointer) pair surfaced by a read.
type TimelineItem struct {
	ID  uint64
	Ptr TxnPointer
}

// Read returns up to max live entries with id > afterID in increasing
// order, plus the largest id seen (or afterID if nothing was found).
func (tl *Timeline) Read(afterID uint64, max int) ([]TimelineItem, uint64) {
	if max <= 0 {
		return nil, afterID
	}
	start := sort.Search(len(tl.records), func(i int) bool {
		return tl.records[i].id > afterID
	})
	out := make([]TimelineItem, 0, max)
	newAfter := afterID
	for i := start; i < len(tl.records) && len(out) < max; i++ {
		rec := tl.records[i]
		if rec.removed {
			continue
		}
		out = append(out, TimelineItem{ID: rec.id, Ptr: rec.ptr})
		newAfter = rec.id
	}
	return out, newAfter
}

// FilterRead returns the subset of ids that are still live, preserving the
// input order. Used to re-read retry-flagged ids (spec.md §4.1).
func (tl *Timeline) FilterRead(ids []uint64) []TimelineItem {
	if len(ids) == 0 {
		return nil
	}
	// records are sorted by id; binary search each requested id.
	out := make([]TimelineItem, 0, len(ids))
	for _, id := range ids {
		i := sort.Search(len(tl.records), func(i int) bool { return tl.records[i].id >= id })
		if i < len(tl.records) && tl.records[i].id == id && !tl.records[i].removed {
			out = append(out, TimelineItem{ID: id, Ptr: tl.records[i].ptr})
		}
	}
	return out
}

// EarliestLiveID returns the smallest live timeline id, and whether one
// exists. Used for peer broadcast diagnostics / GC bookkeeping.
func (tl *Timeline) EarliestLiveID() (uint64, bool) {
	items, _ := tl.Read(0, 1)
	if len(items) == 0 {
		return 0, false
	}
	return items[0].ID, true
}
