// Package coordinator wires the core pool, peer manager, ingress/ACK
// pipeline, broadcast scheduler, and consensus/state-sync/reconfig
// handlers into the single multiplexing loop spec.md §4.9/§6 describes.
// Grounded on plugin/evm/gossip_eth_tx_pool.go's constructor (which wires
// a txpool, a gossip handler, and a set of peer-facing channels the same
// way) and core/txpool/txpool.go's reorg/reset loop shape for the main
// goroutine.
package coordinator

import "time"

// Config is the coordinator's tunable behavior (spec.md §6). It is a
// plain struct — no flag parsing or file loading lives here, that is the
// caller's job (spec.md's explicit non-goal); the mapstructure tags are
// for a caller that unmarshals from its own viper/pflag-backed config
// tree into this struct.
type Config struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	BackoffInterval time.Duration `mapstructure:"backoff_interval"`
	BatchSize       int           `mapstructure:"batch_size"`
	Capacity        int           `mapstructure:"capacity"`
	AckTimeout      time.Duration `mapstructure:"ack_timeout"`
	MaxPerSender    uint64        `mapstructure:"max_per_sender"`

	// SubmissionRateLimitPerSec throttles the client-submission entry
	// point only (spec.md §4.18). Zero means unlimited.
	SubmissionRateLimitPerSec float64 `mapstructure:"submission_rate_limit_per_sec"`
	SubmissionBurst           int     `mapstructure:"submission_burst"`
}

// DefaultConfig returns the coordinator's out-of-the-box tunables.
func DefaultConfig() Config {
	return Config{
		TickInterval:              200 * time.Millisecond,
		BackoffInterval:           2 * time.Second,
		BatchSize:                 100,
		Capacity:                  50_000,
		AckTimeout:                5 * time.Second,
		MaxPerSender:              100,
		SubmissionRateLimitPerSec: 1000,
		SubmissionBurst:           100,
	}
}
