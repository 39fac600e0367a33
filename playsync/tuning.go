package playsync

import "time"

// Tuning holds the synchronization thresholds. The right values are
// empirical, so nothing here is a hard constant; tests and deployments
// override them freely.
type Tuning struct {
	// DriftThreshold is the maximum acceptable position disagreement,
	// in seconds, before a corrective seek is issued. Also the jump
	// size the polling detector treats as a seek.
	DriftThreshold float64
	// PollInterval is the detector's sampling period for backends
	// without seek callbacks.
	PollInterval time.Duration
	// SeekCooldown is the minimum gap between polled seek emissions.
	SeekCooldown time.Duration
	// SeekDebounce coalesces a drag-scrub gesture on callback-capable
	// backends into a single seek event.
	SeekDebounce time.Duration
	// SettleDelay is how long echo suppression stays up after a
	// programmatic mutation, absorbing the backend's own event storm.
	SettleDelay time.Duration
	// SeekSettleTimeout bounds how long the reconciler waits for an
	// asynchronous seek to converge.
	SeekSettleTimeout time.Duration
	// SeekEpsilon is the convergence tolerance for a settled seek.
	SeekEpsilon float64
	// BufferingCatchUp, when set, halves the effective drift threshold
	// for a follower that needed a corrective seek on consecutive
	// events, until it converges without one.
	BufferingCatchUp bool
}

// DefaultTuning returns the design defaults.
func DefaultTuning() Tuning {
	return Tuning{
		DriftThreshold:    1.0,
		PollInterval:      1 * time.Second,
		SeekCooldown:      3 * time.Second,
		SeekDebounce:      500 * time.Millisecond,
		SettleDelay:       400 * time.Millisecond,
		SeekSettleTimeout: 2 * time.Second,
		SeekEpsilon:       0.25,
		BufferingCatchUp:  false,
	}
}
