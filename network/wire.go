// Package network defines the peer wire protocol and the external sender
// capability consumed by the broadcast scheduler and ACK pipeline
// (spec.md §1, §6). Transport itself is an explicit non-goal; only the
// message shapes and the Sender contract live here.
package network

import (
	"context"

	"github.com/luxfi/geth/rlp"
	"github.com/luxfi/ids"
	"github.com/luxfi/sharedmempool/core"
)

// wireTxn is the RLP-stable wire representation of core.Txn, kept as an
// explicit mirror type so the wire format is decoupled from internal field
// order changes in core.Txn. The *uint256.Int gas amount travels as its
// big-endian bytes.
type wireTxn struct {
	Sender       [20]byte
	Sequence     uint64
	GasAmount    []byte // big-endian, per uint256.Int.Bytes()
	ExpirationUs uint64
	Fingerprint  [32]byte
}

func toWire(t core.Txn) wireTxn {
	var gas []byte
	if t.GasAmount != nil {
		gas = t.GasAmount.Bytes()
	}
	return wireTxn{
		Sender:       t.Sender,
		Sequence:     t.Sequence,
		GasAmount:    gas,
		ExpirationUs: t.ExpirationUs,
		Fingerprint:  t.Fingerprint,
	}
}

// BroadcastTransactionsRequest is the push-broadcast message a peer
// receives (spec.md §6).
type BroadcastTransactionsRequest struct {
	RequestID    []byte
	Transactions []wireTxn
}

// BroadcastTransactionsResponse is the ACK a peer sends back (spec.md §6).
type BroadcastTransactionsResponse struct {
	RequestID []byte
	RetryTxns []uint64
	Backoff   bool
}

// NewBroadcastRequest packs txns into the wire request shape.
func NewBroadcastRequest(requestID []byte, txns []core.Txn) BroadcastTransactionsRequest {
	wire := make([]wireTxn, len(txns))
	for i, t := range txns {
		wire[i] = toWire(t)
	}
	return BroadcastTransactionsRequest{RequestID: requestID, Transactions: wire}
}

// Encode RLP-encodes a message for transport (spec.md §6: "length-delimited
// frames; encoding is canonical binary, position-stable field order").
// Length-delimiting the frame itself is the transport's job (an explicit
// non-goal); this only produces the canonical payload bytes.
func Encode(msg interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(msg)
}

// DecodeRequest parses a BroadcastTransactionsRequest payload.
func DecodeRequest(data []byte) (BroadcastTransactionsRequest, error) {
	var req BroadcastTransactionsRequest
	err := rlp.DecodeBytes(data, &req)
	return req, err
}

// DecodeResponse parses a BroadcastTransactionsResponse payload.
func DecodeResponse(data []byte) (BroadcastTransactionsResponse, error) {
	var resp BroadcastTransactionsResponse
	err := rlp.DecodeBytes(data, &resp)
	return resp, err
}

// Message is the payload handed to Sender.SendTo; callers encode it with
// Encode before it reaches the transport.
type Message = BroadcastTransactionsRequest

// Sender is the external network capability consumed by the broadcast
// scheduler (spec.md §6, send_to). Transport-level deadlines and framing
// are the implementation's concern, not this contract's.
type Sender interface {
	SendTo(ctx context.Context, peer ids.NodeID, msg BroadcastTransactionsRequest) error
}
