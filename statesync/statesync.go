// Package statesync implements the commit-notification path a consensus or
// state-sync component drives once a block lands (spec.md §4.7): each
// committed transaction is removed from the pool, clearing the way for its
// successor to promote to Ready. Grounded on
// shared_mempool/tasks.rs::process_commit_notification, adapted to Go's
// request/reply channel idiom.
package statesync

import (
	"github.com/luxfi/log"

	"github.com/luxfi/sharedmempool/core"
)

// CommitRequest reports transactions committed in a block, along with the
// block's timestamp used to opportunistically garbage-collect expired
// entries (spec.md §6, commit_notification channel).
type CommitRequest struct {
	Committed           []core.TxnPointer
	BlockTimestampUsecs uint64
	Reply               chan struct{}
}

// Handler serves commit notifications against the core pool.
type Handler struct {
	pool *core.Pool
	log  log.Logger
}

// New constructs a statesync Handler.
func New(pool *core.Pool, logger log.Logger) *Handler {
	return &Handler{pool: pool, log: logger}
}

// HandleCommit implements spec.md §4.7 commit: each committed pointer is
// removed (isRejected=false, so only that exact sequence is dropped and the
// sender's nextReadySeq is left unchanged), then, when the block timestamp
// is non-zero, the pool is GC'd by it.
func (h *Handler) HandleCommit(req CommitRequest) {
	for _, ptr := range req.Committed {
		h.pool.RemoveTransaction(ptr.Sender, ptr.Sequence, false)
	}
	if req.BlockTimestampUsecs > 0 {
		h.pool.GCByExpirationTime(req.BlockTimestampUsecs)
	}

	select {
	case req.Reply <- struct{}{}:
	default:
	}
}
