// Package core implements the in-memory transaction pool and timeline index
// that sit at the center of the shared mempool: the set of pending
// transactions keyed by (sender, sequence), and the append-only log of
// Ready-admissions that the broadcast scheduler reads from.
package core

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Txn is opaque to the pool except for the fields below: sender identity,
// per-sender monotonic sequence number, declared gas amount, expiration,
// and a fingerprint used for equality.
type Txn struct {
	Sender        common.Address
	Sequence      uint64
	GasAmount     *uint256.Int
	ExpirationUs  uint64
	Fingerprint   common.Hash
}

// Equal compares two transactions by fingerprint, per spec.
func (t Txn) Equal(other Txn) bool {
	return t.Fingerprint == other.Fingerprint
}

// TxnPointer uniquely identifies an in-pool entry.
type TxnPointer struct {
	Sender   common.Address
	Sequence uint64
}

// GovernanceRole is the capability class used for preferential admission
// and block-pull priority ordering. Higher values take priority.
type GovernanceRole int

const (
	RoleNone GovernanceRole = iota
	RoleValidator
	RoleGovernance
)

// TimelineState records whether an entry is eligible for timeline
// publication and block pull.
type TimelineState int

const (
	NotReady TimelineState = iota
	Ready
)

// PoolEntry is the pool's internal record for a pending transaction.
type PoolEntry struct {
	Txn            Txn
	RankingScore   int64
	GovernanceRole GovernanceRole
	TimelineState  TimelineState
	InsertionTime  time.Time
	TimelineID     uint64 // valid only when TimelineState == Ready
	hasTimelineID  bool
	insertionRank  uint64 // monotonic insertion order, used only for get_block tie-breaks
}

// Pointer returns the TxnPointer identifying this entry.
func (e *PoolEntry) Pointer() TxnPointer {
	return TxnPointer{Sender: e.Txn.Sender, Sequence: e.Txn.Sequence}
}

// MempoolStatusCode enumerates the outcome of inserting a transaction.
type MempoolStatusCode int

const (
	Accepted MempoolStatusCode = iota
	TooManyTransactions
	MempoolIsFull
	InvalidSeqNumber
	VmError
	InvalidUpdate
	UnknownStatus
)

func (c MempoolStatusCode) String() string {
	switch c {
	case Accepted:
		return "Accepted"
	case TooManyTransactions:
		return "TooManyTransactions"
	case MempoolIsFull:
		return "MempoolIsFull"
	case InvalidSeqNumber:
		return "InvalidSeqNumber"
	case VmError:
		return "VmError"
	case InvalidUpdate:
		return "InvalidUpdate"
	default:
		return "UnknownStatus"
	}
}

// DiscardedVMStatus carries the underlying VM-level reason for a VmError
// status. It is an opaque string from the pool's perspective; the
// validator capability supplies the value.
type DiscardedVMStatus string

const (
	VMStatusNone                  DiscardedVMStatus = ""
	VMStatusResourceDoesNotExist  DiscardedVMStatus = "ResourceDoesNotExist"
	VMStatusSequenceNumberTooOld  DiscardedVMStatus = "SequenceNumberTooOld"
)

// MempoolStatus is the result of a single add_txn attempt.
type MempoolStatus struct {
	Code MempoolStatusCode
	VM   DiscardedVMStatus
}

// SubmissionStatus pairs a MempoolStatus with the Txn it describes, mirroring
// the bundle threaded through the ingress/ACK pipelines.
type SubmissionStatus struct {
	Txn    Txn
	Status MempoolStatus
}

// IsRetryable reports whether a peer-broadcast result should be flagged for
// resend in the ACK response (spec.md §4.4).
func (s MempoolStatus) IsRetryable() bool {
	return s.Code == TooManyTransactions || s.Code == MempoolIsFull
}
