package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/luxfi/ids"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/luxfi/sharedmempool/account"
	"github.com/luxfi/sharedmempool/broadcast"
	"github.com/luxfi/sharedmempool/consensus"
	"github.com/luxfi/sharedmempool/core"
	"github.com/luxfi/sharedmempool/ingress"
	"github.com/luxfi/sharedmempool/metrics"
	"github.com/luxfi/sharedmempool/network"
	"github.com/luxfi/sharedmempool/peer"
	"github.com/luxfi/sharedmempool/reconfig"
	"github.com/luxfi/sharedmempool/statesync"
	"github.com/luxfi/sharedmempool/validator"
)

// Coordinator owns the core pool and every handler that surrounds it,
// multiplexing client submissions, peer broadcasts, consensus requests,
// state-sync commits, and reconfig notifications onto it (spec.md §4.9,
// §6). It is the single process-wide instance; all mutation of shared
// state funnels through the components it wires, never directly.
type Coordinator struct {
	cfg Config
	log log.Logger

	pool       *core.Pool
	peers      *peer.Manager
	pipeline   *ingress.Pipeline
	scheduler  *broadcast.Scheduler
	consensusH *consensus.Handler
	stateSyncH *statesync.Handler
	reconfigH  *reconfig.Handler

	ClientSubmission  chan ingress.ClientRequest
	PeerBroadcast     chan ingress.PeerBroadcastRequest
	ConsensusGetBlock chan consensus.GetBlockRequest
	ConsensusReject   chan consensus.RejectNotificationRequest
	StateSyncCommit   chan statesync.CommitRequest
	Reconfig          chan reconfig.Update
	PeerResponse      chan PeerResponse

	// AckReady surfaces encoded ACK payloads for the caller's transport
	// to deliver back to the originating peer (spec.md §4.4; sending the
	// bytes over a wire is an explicit non-goal).
	AckReady chan AckResult

	peerTasks map[ids.NodeID]context.CancelFunc
	mu        sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PeerResponse carries a decoded peer ACK into the coordinator, for the
// caller's network glue to forward after decoding a
// network.BroadcastTransactionsResponse off the wire (spec.md §6).
type PeerResponse struct {
	Peer      ids.NodeID
	RequestID []byte
	RetryIdx  []uint64
	Backoff   bool
}

// AckResult is an encoded ACK response paired with the peer it is
// addressed to.
type AckResult struct {
	Peer    ids.NodeID
	Encoded []byte
}

// New wires a Coordinator from its external capabilities (spec.md §6:
// TransactionValidation, AccountSequenceLookup, Sender, peer-picking
// policy) and tunables.
func New(cfg Config, v validator.TransactionValidation, accounts account.SequenceLookup, sender network.Sender, policy peer.PickPolicy, registerer prometheus.Registerer, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New()
	}
	pool := core.NewPool(cfg.Capacity, cfg.MaxPerSender)
	peers := peer.NewManager()
	m := metrics.New(registerer)
	validatorCap := validator.NewCapability(v)

	pipeline := ingress.New(pool, validatorCap, accounts, m, logger, rate.Limit(cfg.SubmissionRateLimitPerSec), cfg.SubmissionBurst)
	scheduler := broadcast.New(pool, peers, policy, sender, m, logger, broadcast.Config{
		TickInterval:    cfg.TickInterval,
		BackoffInterval: cfg.BackoffInterval,
		BatchSize:       cfg.BatchSize,
		AckTimeout:      cfg.AckTimeout,
	})

	return &Coordinator{
		cfg:        cfg,
		log:        logger,
		pool:       pool,
		peers:      peers,
		pipeline:   pipeline,
		scheduler:  scheduler,
		consensusH: consensus.New(pool, logger),
		stateSyncH: statesync.New(pool, logger),
		reconfigH:  reconfig.New(validatorCap, logger),

		ClientSubmission:  make(chan ingress.ClientRequest, 256),
		PeerBroadcast:     make(chan ingress.PeerBroadcastRequest, 256),
		ConsensusGetBlock: make(chan consensus.GetBlockRequest, 16),
		ConsensusReject:   make(chan consensus.RejectNotificationRequest, 16),
		StateSyncCommit:   make(chan statesync.CommitRequest, 16),
		Reconfig:          make(chan reconfig.Update, 4),
		PeerResponse:      make(chan PeerResponse, 256),
		AckReady:          make(chan AckResult, 256),

		peerTasks: make(map[ids.NodeID]context.CancelFunc),
	}
}

// Start launches the main multiplexing loop. A panic on the main loop's
// goroutine is recovered once here, logged at Crit, and re-panicked so the
// process crashes and an external supervisor restarts it (spec.md §9 Open
// Question: this is the literal Go idiom for "aborts the coordinator;
// supervisor expected to restart"). Panics on per-peer broadcast tasks and
// dispatched request goroutines are not recovered here; they crash the
// process without the Crit log.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Crit("coordinator: fatal invariant violation", "panic", r)
				panic(r)
			}
		}()
		c.mainLoop(runCtx)
	}()
}

// Stop cancels the coordinator and its per-peer broadcast tasks, and
// blocks until all of them have exited.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	for _, stop := range c.peerTasks {
		stop()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// AddPeer starts a broadcast scheduler task for peer, idempotently.
func (c *Coordinator) AddPeer(ctx context.Context, peerID ids.NodeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peerTasks[peerID]; ok {
		return
	}
	peerCtx, stop := context.WithCancel(ctx)
	c.peerTasks[peerID] = stop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.scheduler.Run(peerCtx, peerID)
	}()
}

// RemovePeer stops peer's broadcast task and drops its tracked state,
// e.g. on disconnect.
func (c *Coordinator) RemovePeer(peerID ids.NodeID) {
	c.mu.Lock()
	stop, ok := c.peerTasks[peerID]
	delete(c.peerTasks, peerID)
	c.mu.Unlock()
	if ok {
		stop()
	}
	c.peers.Remove(peerID)
}

// mainLoop multiplexes every inbound channel (spec.md §4.9): each request
// other than a peer ACK is dispatched to its handler on its own goroutine
// so a slow validator or storage call on one request never blocks the
// others, mirroring the teacher's per-request goroutine dispatch in
// network/network.go. Peer ACKs (PeerResponse) are applied inline on the
// loop goroutine.
func (c *Coordinator) mainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-c.ClientSubmission:
			c.dispatch(func() { c.pipeline.ProcessClientSubmission(ctx, req) })

		case req := <-c.PeerBroadcast:
			c.dispatch(func() {
				results := c.pipeline.ProcessPeerBroadcast(ctx, req)
				retryIdx, backoff := ingress.BuildAck(results)
				encoded, err := network.Encode(network.BroadcastTransactionsResponse{
					RequestID: req.RequestID,
					RetryTxns: retryIdx,
					Backoff:   backoff,
				})
				if err != nil {
					c.log.Error("failed to encode ack response", "error", err)
					return
				}
				select {
				case c.AckReady <- AckResult{Peer: req.Peer, Encoded: encoded}:
				case <-ctx.Done():
				}
			})

		case resp := <-c.PeerResponse:
			c.scheduler.HandleAck(resp.Peer, resp.RequestID, resp.RetryIdx, resp.Backoff)

		case req := <-c.ConsensusGetBlock:
			c.dispatch(func() { c.consensusH.HandleGetBlock(req, nowUsecs()) })

		case req := <-c.ConsensusReject:
			c.dispatch(func() { c.consensusH.HandleRejectNotification(req) })

		case req := <-c.StateSyncCommit:
			c.dispatch(func() { c.stateSyncH.HandleCommit(req) })

		case req := <-c.Reconfig:
			c.dispatch(func() { c.reconfigH.HandleReconfig(ctx, req) })
		}
	}
}

// dispatch runs fn on its own goroutine, tracked by the coordinator's
// WaitGroup so Stop() blocks until every in-flight request has finished
// rather than just the main loop and peer tasks.
func (c *Coordinator) dispatch(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func nowUsecs() uint64 {
	return uint64(time.Now().UnixMicro())
}
