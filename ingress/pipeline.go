// Package ingress implements the client-submission and peer-broadcast
// transaction processing paths (spec.md §4.3): sequence-number filtering,
// parallel validation, pool insertion, and status assembly.
package ingress

import (
	"context"
	"runtime"
	"sync/atomic"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/event"
	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/luxfi/sharedmempool/account"
	"github.com/luxfi/sharedmempool/core"
	"github.com/luxfi/sharedmempool/metrics"
	"github.com/luxfi/sharedmempool/validator"
)

// NewTransactionsEvent is sent on Pipeline.Feed once a batch has been
// inserted into the pool (spec.md §4.3 step 5).
type NewTransactionsEvent struct {
	Count int
}

// Pipeline wires the account lookup and validator capability to the core
// pool, implementing process_incoming_transactions and its two entry
// points (spec.md §4.3).
type Pipeline struct {
	pool      *core.Pool
	validator *validator.Capability
	accounts  account.SequenceLookup
	metrics   *metrics.Set
	log       log.Logger

	Feed event.Feed // SharedMempoolNotification-style subscriber fan-out

	// dedupe is a fast, non-authoritative rejection cache keyed by
	// fingerprint: a resubmission storm of an already-discarded
	// fingerprint short-circuits before the committed-sequence lookup and
	// validator call (spec.md §4.12 — a performance hint only, never
	// authoritative: the pool's own uniqueness invariant still governs
	// correctness).
	dedupe *fastcache.Cache

	// limiter throttles the client-submission entry point only; peer
	// broadcasts are already backpressured via ACK/backoff (spec.md §4.18).
	limiter *rate.Limiter

	// lastEvictions is the pool's eviction count as of the last metrics
	// publish, used to turn core.Pool.Evictions()'s cumulative total into
	// the delta applied to metrics.Set.Evictions (a Counter, never Set).
	lastEvictions uint64
}

// New constructs a Pipeline. A zero submissionRateLimit means unlimited
// (rate.Inf), not a limiter that never lets a request through: rate.Limiter
// with limit 0 blocks Wait forever, which would hang every client
// submission rather than leave the entry point unthrottled.
func New(pool *core.Pool, v *validator.Capability, accounts account.SequenceLookup, m *metrics.Set, logger log.Logger, submissionRateLimit rate.Limit, submissionBurst int) *Pipeline {
	if submissionRateLimit == 0 {
		submissionRateLimit = rate.Inf
	}
	return &Pipeline{
		pool:      pool,
		validator: v,
		accounts:  accounts,
		metrics:   m,
		log:       logger,
		dedupe:    fastcache.New(4 * 1024 * 1024),
		limiter:   rate.NewLimiter(submissionRateLimit, submissionBurst),
	}
}

// ClientRequest is the (txn, one-shot reply) channel payload for client
// submissions (spec.md §6, client_submission channel).
type ClientRequest struct {
	Txn   core.Txn
	Score int64 // advisory, overwritten by validation
	Reply chan core.SubmissionStatus
}

// ProcessClientSubmission implements the client entry point: a single txn,
// timeline_state = NotReady, delivered via a one-shot reply channel
// (spec.md §4.3).
//
// A dropped receiver (the caller gave up) is a recoverable ChannelError
// (spec.md §7): the send is non-blocking and the task simply completes.
func (p *Pipeline) ProcessClientSubmission(ctx context.Context, req ClientRequest) {
	if err := p.limiter.Wait(ctx); err != nil {
		select {
		case req.Reply <- core.SubmissionStatus{Txn: req.Txn, Status: core.MempoolStatus{Code: core.UnknownStatus}}:
		default:
		}
		return
	}

	results := p.ProcessIncomingTransactions(ctx, []core.Txn{req.Txn}, core.NotReady)
	if len(results) == 0 {
		return
	}
	select {
	case req.Reply <- results[0]:
	default:
		p.log.Debug("client submission reply dropped", "sender", req.Txn.Sender, "sequence", req.Txn.Sequence)
	}
}

// PeerBroadcastRequest is the (peer, request_id, txns) channel payload for
// peer-broadcast submissions (spec.md §6, peer_broadcast channel). Peer
// is routing metadata only — it identifies who the resulting ACK is
// addressed back to; request/response correlation itself is the caller's
// transport's job (an explicit non-goal here).
type PeerBroadcastRequest struct {
	Peer         ids.NodeID
	Transactions []core.Txn
	RequestID    []byte
}

// ProcessPeerBroadcast implements the peer-broadcast entry point: a batch
// of txns, timeline_state = Ready (the peer already staged them), with the
// per-txn results used to build an ACK (spec.md §4.3, §4.4).
func (p *Pipeline) ProcessPeerBroadcast(ctx context.Context, req PeerBroadcastRequest) []core.SubmissionStatus {
	return p.ProcessIncomingTransactions(ctx, req.Transactions, core.Ready)
}

// ProcessIncomingTransactions implements spec.md §4.3 steps 1-5.
func (p *Pipeline) ProcessIncomingTransactions(ctx context.Context, txns []core.Txn, timelineState core.TimelineState) []core.SubmissionStatus {
	if len(txns) == 0 {
		return nil
	}

	type pending struct {
		idx          int
		txn          core.Txn
		committedSeq uint64
	}

	results := make([]core.SubmissionStatus, len(txns))
	for i, t := range txns {
		results[i] = core.SubmissionStatus{Txn: t}
	}

	// Step 1: bulk-fetch committed sequence numbers. Misses drop the txn
	// with VmError/ResourceDoesNotExist (spec.md §4.3 step 1). A lookup miss
	// is never cached: the same fingerprint's account can exist by the next
	// resubmission, and the dedupe cache must never turn a transient outcome
	// permanent (SPEC_FULL §4.12). Only a stale-sequence rejection is a fact
	// that can never become untrue for that exact fingerprint, so only that
	// outcome is eligible for the fast-reject cache.
	seqs := make([]uint64, len(txns))
	lookupErr := make([]bool, len(txns))
	staleCached := make([]bool, len(txns))
	{
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, t := range txns {
			i, t := i, t
			if p.dedupe.Has(t.Fingerprint[:]) {
				staleCached[i] = true
				continue
			}
			g.Go(func() error {
				seq, err := p.accounts.GetAccountSequenceNumber(gctx, t.Sender)
				if err != nil {
					lookupErr[i] = true
					return nil
				}
				seqs[i] = seq
				return nil
			})
		}
		_ = g.Wait()
	}

	var toValidate []pending
	for i, t := range txns {
		if staleCached[i] {
			results[i].Status = core.MempoolStatus{Code: core.VmError, VM: core.VMStatusSequenceNumberTooOld}
			continue
		}
		if lookupErr[i] {
			results[i].Status = core.MempoolStatus{Code: core.VmError, VM: core.VMStatusResourceDoesNotExist}
			continue
		}
		// Step 2: stale sequence.
		if t.Sequence < seqs[i] {
			results[i].Status = core.MempoolStatus{Code: core.VmError, VM: core.VMStatusSequenceNumberTooOld}
			p.dedupe.Set(t.Fingerprint[:], []byte{1})
			continue
		}
		toValidate = append(toValidate, pending{idx: i, txn: t, committedSeq: seqs[i]})
	}

	// Step 3: parallel validation under the validator's read lock
	// (spec.md §4.3 step 3, §4.17).
	type validated struct {
		result validator.ValidationResult
		err    error
	}
	outcomes := make([]validated, len(toValidate))
	{
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for i, pend := range toValidate {
			i, pend := i, pend
			g.Go(func() error {
				res, err := p.validator.Validate(gctx, pend.txn)
				outcomes[i] = validated{result: res, err: err}
				return nil
			})
		}
		_ = g.Wait()
	}

	// Step 4: insert accepted txns. Each AddTxn call takes the pool lock
	// for its own short critical section; the batch as a whole is not
	// inserted under one lock hold, so other pool operations can run
	// between two insertions of the same batch.
	for i, pend := range toValidate {
		outcome := outcomes[i]
		if outcome.err != nil || outcome.result.VMStatus != core.VMStatusNone {
			vm := outcome.result.VMStatus
			if outcome.err != nil {
				vm = core.DiscardedVMStatus(outcome.err.Error())
			}
			results[pend.idx].Status = core.MempoolStatus{Code: core.VmError, VM: vm}
			continue
		}
		status := p.pool.AddTxn(pend.txn, outcome.result.Score, pend.committedSeq, timelineState, outcome.result.GovernanceRole)
		results[pend.idx].Status = status
	}

	// Step 5: notify subscribers.
	accepted := 0
	for _, r := range results {
		if r.Status.Code == core.Accepted {
			accepted++
		}
	}
	if accepted > 0 {
		p.Feed.Send(NewTransactionsEvent{Count: accepted})
	}
	if p.metrics != nil {
		p.metrics.PoolSize.Set(float64(p.pool.Size()))
		if total := p.pool.Evictions(); total > atomic.LoadUint64(&p.lastEvictions) {
			prev := atomic.SwapUint64(&p.lastEvictions, total)
			p.metrics.Evictions.Add(float64(total - prev))
		}
	}

	return results
}
