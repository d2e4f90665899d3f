package ingress

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/luxfi/sharedmempool/core"
	"github.com/luxfi/sharedmempool/metrics"
	"github.com/luxfi/sharedmempool/validator"
)

type fakeAccounts struct {
	seq map[common.Address]uint64
	err map[common.Address]error
}

func (f *fakeAccounts) GetAccountSequenceNumber(_ context.Context, addr common.Address) (uint64, error) {
	if err, ok := f.err[addr]; ok {
		return 0, err
	}
	return f.seq[addr], nil
}

type fakeValidator struct {
	rejectSeq map[uint64]bool
}

func (f *fakeValidator) ValidateTransaction(_ context.Context, txn core.Txn) (validator.ValidationResult, error) {
	if f.rejectSeq[txn.Sequence] {
		return validator.ValidationResult{VMStatus: "Rejected"}, nil
	}
	return validator.ValidationResult{Score: int64(txn.Sequence), GovernanceRole: core.RoleNone}, nil
}

func (f *fakeValidator) Restart(context.Context, validator.ConfigUpdate) error { return nil }

func addr(b byte) common.Address {
	var a common.Address
	a[0] = b
	return a
}

func mkTxn(sender common.Address, seq uint64) core.Txn {
	var fp common.Hash
	fp[0] = byte(seq)
	fp[1] = sender[0]
	return core.Txn{Sender: sender, Sequence: seq, GasAmount: uint256.NewInt(1), ExpirationUs: 1_000_000_000, Fingerprint: fp}
}

func newPipeline(accounts *fakeAccounts, v *fakeValidator) (*Pipeline, *core.Pool) {
	pool := core.NewPool(100, 10)
	vcap := validator.NewCapability(v)
	p := New(pool, vcap, accounts, metrics.New(nil), log.New(), rate.Inf, 100)
	return p, pool
}

func TestProcessIncoming_AcceptsContiguousSubmission(t *testing.T) {
	sender := addr(1)
	accounts := &fakeAccounts{seq: map[common.Address]uint64{sender: 5}}
	p, pool := newPipeline(accounts, &fakeValidator{})

	results := p.ProcessIncomingTransactions(context.Background(), []core.Txn{mkTxn(sender, 5)}, core.NotReady)
	require.Len(t, results, 1)
	require.Equal(t, core.Accepted, results[0].Status.Code)
	require.Equal(t, 1, pool.Size())
}

func TestProcessIncoming_StaleSequenceRejected(t *testing.T) {
	sender := addr(2)
	accounts := &fakeAccounts{seq: map[common.Address]uint64{sender: 10}}
	p, _ := newPipeline(accounts, &fakeValidator{})

	results := p.ProcessIncomingTransactions(context.Background(), []core.Txn{mkTxn(sender, 3)}, core.NotReady)
	require.Len(t, results, 1)
	require.Equal(t, core.VmError, results[0].Status.Code)
	require.Equal(t, core.VMStatusSequenceNumberTooOld, results[0].Status.VM)
}

func TestProcessIncoming_AccountLookupMissProducesResourceDoesNotExist(t *testing.T) {
	sender := addr(3)
	accounts := &fakeAccounts{err: map[common.Address]error{sender: errors.New("not found")}}
	p, _ := newPipeline(accounts, &fakeValidator{})

	results := p.ProcessIncomingTransactions(context.Background(), []core.Txn{mkTxn(sender, 0)}, core.NotReady)
	require.Len(t, results, 1)
	require.Equal(t, core.VmError, results[0].Status.Code)
	require.Equal(t, core.VMStatusResourceDoesNotExist, results[0].Status.VM)
}

func TestProcessIncoming_ValidatorRejectionSurfacesVMStatus(t *testing.T) {
	sender := addr(4)
	accounts := &fakeAccounts{seq: map[common.Address]uint64{sender: 0}}
	p, _ := newPipeline(accounts, &fakeValidator{rejectSeq: map[uint64]bool{0: true}})

	results := p.ProcessIncomingTransactions(context.Background(), []core.Txn{mkTxn(sender, 0)}, core.NotReady)
	require.Len(t, results, 1)
	require.Equal(t, core.VmError, results[0].Status.Code)
	require.Equal(t, core.DiscardedVMStatus("Rejected"), results[0].Status.VM)
}

func TestProcessPeerBroadcast_BuildsAckWithRetryOnFullPool(t *testing.T) {
	sender := addr(5)
	accounts := &fakeAccounts{seq: map[common.Address]uint64{sender: 0}}
	pool := core.NewPool(1, 10)
	vcap := validator.NewCapability(&fakeValidator{})
	p := New(pool, vcap, accounts, metrics.New(nil), log.New(), rate.Inf, 100)

	// Fill the single slot with a privileged, non-evictable entry.
	other := addr(6)
	pool.AddTxn(mkTxn(other, 0), 0, 0, core.Ready, core.RoleGovernance)

	results := p.ProcessPeerBroadcast(context.Background(), PeerBroadcastRequest{
		Transactions: []core.Txn{mkTxn(sender, 0)},
		RequestID:    []byte{1},
	})
	require.Len(t, results, 1)
	require.Equal(t, core.MempoolIsFull, results[0].Status.Code)

	retryIdx, backoff := BuildAck(results)
	require.Equal(t, []uint64{0}, retryIdx)
	require.True(t, backoff)
}

func TestBuildAck_NoRetryOnPermanentRejection(t *testing.T) {
	results := []core.SubmissionStatus{
		{Status: core.MempoolStatus{Code: core.VmError, VM: core.VMStatusSequenceNumberTooOld}},
	}
	retryIdx, backoff := BuildAck(results)
	require.Empty(t, retryIdx)
	require.False(t, backoff)
}
