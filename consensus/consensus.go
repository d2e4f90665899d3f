// Package consensus implements the two operations the core pool exposes to
// a block proposer (spec.md §4.6): pulling a block's worth of Ready
// transactions, and dropping transactions the proposer rejected. Grounded
// on shared_mempool/tasks.rs's process_state_sync/process_commit_notification
// sibling, process_consensus_request, adapted to Go's request/reply channel
// idiom already used by the teacher's own plugin/evm/block.go (a reply
// channel per request rather than a blocking RPC return).
package consensus

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/luxfi/log"

	"github.com/luxfi/sharedmempool/core"
)

// GetBlockRequest asks for up to MaxSize Ready transactions, excluding any
// pointer already present in Exclude (e.g. already included in an
// in-flight proposal elsewhere), delivered on Reply (spec.md §6,
// get_block_request channel).
type GetBlockRequest struct {
	MaxSize int
	Exclude mapset.Set[core.TxnPointer]
	Reply   chan []core.Txn
}

// RejectNotificationRequest reports transactions the proposer rejected
// (e.g. failed to apply) so the pool can drop them and their dependent
// suffix (spec.md §6, reject_notification channel).
type RejectNotificationRequest struct {
	Rejected []core.TxnPointer
	Reply    chan struct{}
}

// Handler serves consensus requests against the core pool.
type Handler struct {
	pool *core.Pool
	log  log.Logger
}

// New constructs a consensus Handler.
func New(pool *core.Pool, logger log.Logger) *Handler {
	return &Handler{pool: pool, log: logger}
}

// HandleGetBlock implements spec.md §4.6 get_block: a garbage collection
// pass runs first (the teacher's txpool.go also reaps before assembling a
// block), then the pool's priority-ordered selection is returned.
func (h *Handler) HandleGetBlock(req GetBlockRequest, nowUs uint64) {
	h.pool.GCByExpirationTime(nowUs)
	block := h.pool.GetBlock(req.MaxSize, req.Exclude)

	select {
	case req.Reply <- block:
	default:
		h.log.Debug("get_block reply dropped", "count", len(block))
	}
}

// HandleRejectNotification implements spec.md §4.6 reject_notification:
// each rejected pointer and its same-sender suffix are removed, and the
// sender's contiguous-prefix boundary rolls back so a later resubmission
// at that sequence promotes correctly (core.Pool.RemoveTransaction,
// isRejected=true).
func (h *Handler) HandleRejectNotification(req RejectNotificationRequest) {
	for _, ptr := range req.Rejected {
		h.pool.RemoveTransaction(ptr.Sender, ptr.Sequence, true)
	}
	select {
	case req.Reply <- struct{}{}:
	default:
	}
}
