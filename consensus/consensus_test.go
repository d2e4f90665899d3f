package consensus

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/sharedmempool/core"
)

func TestHandleGetBlock_GCsThenReturnsReadyTxns(t *testing.T) {
	pool := core.NewPool(100, 10)
	var a [20]byte
	a[0] = 1
	pool.AddTxn(core.Txn{Sender: a, Sequence: 0, GasAmount: uint256.NewInt(1), ExpirationUs: 100}, 1, 0, core.NotReady, core.RoleNone)

	h := New(pool, log.New())
	reply := make(chan []core.Txn, 1)
	h.HandleGetBlock(GetBlockRequest{MaxSize: 10, Reply: reply}, 200) // past expiration

	block := <-reply
	require.Empty(t, block)
	require.Equal(t, 0, pool.Size())
}

func TestHandleRejectNotification_DropsSuffix(t *testing.T) {
	pool := core.NewPool(100, 10)
	var a [20]byte
	a[0] = 2
	pool.AddTxn(core.Txn{Sender: a, Sequence: 0, GasAmount: uint256.NewInt(1), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)
	pool.AddTxn(core.Txn{Sender: a, Sequence: 1, GasAmount: uint256.NewInt(1), ExpirationUs: 1_000_000_000}, 1, 0, core.NotReady, core.RoleNone)

	h := New(pool, log.New())
	reply := make(chan struct{}, 1)
	h.HandleRejectNotification(RejectNotificationRequest{
		Rejected: []core.TxnPointer{{Sender: a, Sequence: 0}},
		Reply:    reply,
	})
	<-reply

	require.Equal(t, 0, pool.Size())
}
