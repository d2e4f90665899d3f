// Package reconfig handles on-chain validator-set/config updates by
// restarting the transaction validator capability (spec.md §4.8). Grounded
// on shared_mempool/tasks.rs::process_config_update, adapted to the
// validator.Capability write-lock swap already defined for this purpose.
package reconfig

import (
	"context"

	"github.com/luxfi/log"

	"github.com/luxfi/sharedmempool/validator"
)

// Update carries a reconfig notification (spec.md §6, reconfig channel).
type Update struct {
	Config validator.ConfigUpdate
	Reply  chan error
}

// Handler restarts the validator capability on each reconfig request,
// logging and counting failures while leaving the prior validator in
// place (spec.md §4.8, §7 ReconfigError: restart failure is recoverable,
// not fatal — the pool keeps validating against the last-known-good
// config until a subsequent reconfig succeeds).
type Handler struct {
	validator *validator.Capability
	log       log.Logger
	failures  int
}

// New constructs a reconfig Handler.
func New(v *validator.Capability, logger log.Logger) *Handler {
	return &Handler{validator: v, log: logger}
}

// HandleReconfig implements spec.md §4.8.
func (h *Handler) HandleReconfig(ctx context.Context, req Update) {
	err := h.validator.Restart(ctx, req.Config)
	if err != nil {
		h.failures++
		h.log.Error("validator restart failed, retaining prior config", "error", err, "failures", h.failures)
	}

	select {
	case req.Reply <- err:
	default:
	}
}

// Failures returns the number of restart failures observed so far.
func (h *Handler) Failures() int {
	return h.failures
}
