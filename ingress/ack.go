package ingress

import "github.com/luxfi/sharedmempool/core"

// BuildAck assembles the retry-index list and backoff flag a peer-broadcast
// batch's ACK response carries back to the sender, grounded on
// shared_mempool/tasks.rs's gen_ack_response/is_txn_retryable: an entry is
// retryable when the pool rejected it for a transient, capacity-shaped
// reason (TooManyTransactions, MempoolIsFull) rather than a permanent one
// (stale sequence, VM rejection). backoff is set whenever any entry in the
// batch hit MempoolIsFull — a full pool means the peer should widen its
// broadcast interval (spec.md §4.4, invariant 7).
func BuildAck(results []core.SubmissionStatus) (retryIdx []uint64, backoff bool) {
	for i, r := range results {
		if r.Status.IsRetryable() {
			retryIdx = append(retryIdx, uint64(i))
		}
		if r.Status.Code == core.MempoolIsFull {
			backoff = true
		}
	}
	return retryIdx, backoff
}
