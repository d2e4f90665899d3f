// Package validator defines the TransactionValidation capability consumed
// by the ingress pipeline (spec.md §1, §6: signature and semantic
// validation are an explicit non-goal — this package only holds the
// contract and its concurrency wrapper).
package validator

import (
	"context"
	"sync"

	"github.com/luxfi/sharedmempool/core"
)

// ValidationResult is what a successful validation contributes to a
// PoolEntry (spec.md §3, PoolEntry).
type ValidationResult struct {
	Score          int64
	GovernanceRole core.GovernanceRole
	VMStatus       core.DiscardedVMStatus // set when the txn is semantically rejected
}

// ConfigUpdate is the on-chain config payload passed to Restart on reconfig
// (spec.md §4.8, §6).
type ConfigUpdate struct {
	Payload []byte
}

// TransactionValidation is the external capability set consumed by the
// ingress pipeline and the reconfig handler (spec.md §6, §9).
type TransactionValidation interface {
	ValidateTransaction(ctx context.Context, txn core.Txn) (ValidationResult, error)
	Restart(ctx context.Context, cfg ConfigUpdate) error
}

// Capability wraps a TransactionValidation implementation with the
// read/write lock spec.md §4.8/§5/§9 call for: validations hold the read
// lock and may run in parallel; a restart holds the write lock, so it waits
// for in-flight validations and no validation starts until it returns.
type Capability struct {
	mu    sync.RWMutex
	inner TransactionValidation
}

// NewCapability wraps an initial TransactionValidation implementation.
func NewCapability(v TransactionValidation) *Capability {
	return &Capability{inner: v}
}

// Validate holds the read lock for the duration of the delegated call.
func (c *Capability) Validate(ctx context.Context, txn core.Txn) (ValidationResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inner.ValidateTransaction(ctx, txn)
}

// Restart takes the write lock and calls Restart on the wrapped
// implementation. The wrapped implementation is never replaced: on failure
// it keeps serving validations and the error is returned for the caller to
// log and count (spec.md §4.8, §7 ReconfigError).
func (c *Capability) Restart(ctx context.Context, cfg ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Restart(ctx, cfg)
}
