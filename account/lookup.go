// Package account defines the read-only account-sequence lookup consumed
// by the ingress pipeline (spec.md §1, §6). Durable storage of blockchain
// state is an explicit non-goal; this package only holds the contract.
package account

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SequenceLookup is the external, read-only capability for resolving a
// sender's last committed on-chain sequence number (spec.md §6,
// get_account_sequence_number).
type SequenceLookup interface {
	GetAccountSequenceNumber(ctx context.Context, addr common.Address) (uint64, error)
}
