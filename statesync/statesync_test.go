package statesync

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/sharedmempool/core"
)

func TestHandleCommit_RemovesCommittedAndGCs(t *testing.T) {
	pool := core.NewPool(100, 10)
	var a [20]byte
	a[0] = 1
	pool.AddTxn(core.Txn{Sender: a, Sequence: 0, GasAmount: uint256.NewInt(1), ExpirationUs: 500}, 1, 0, core.NotReady, core.RoleNone)
	pool.AddTxn(core.Txn{Sender: a, Sequence: 1, GasAmount: uint256.NewInt(1), ExpirationUs: 500}, 1, 0, core.NotReady, core.RoleNone)

	h := New(pool, log.New())
	reply := make(chan struct{}, 1)
	h.HandleCommit(CommitRequest{
		Committed:           []core.TxnPointer{{Sender: a, Sequence: 0}},
		BlockTimestampUsecs: 1_000_000,
		Reply:               reply,
	})
	<-reply

	require.Equal(t, 0, pool.Size()) // seq 0 removed directly, seq 1 GC'd as expired
}
