package booking

import "time"

// Options tunes the booking engine.  Zero values fall back to defaults.
type Options struct {
	// StepTimeout bounds every external call of a saga step.
	StepTimeout time.Duration
	// CompensationTimeout bounds each compensation call.  Compensation
	// runs on a context detached from the caller's cancellation.
	CompensationTimeout time.Duration
	// HoldTTL is how long a seat hold survives without becoming a ticket,
	// and how long a booking may stay non-terminal before recovery.
	HoldTTL time.Duration
	// ReadRetryMaxElapsed caps backoff retries of idempotent reads.
	ReadRetryMaxElapsed time.Duration
	// SweepBatch limits the rows handled per recovery pass.
	SweepBatch int
	// Now is the clock; tests replace it.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.StepTimeout <= 0 {
		o.StepTimeout = 3 * time.Second
	}
	if o.CompensationTimeout <= 0 {
		o.CompensationTimeout = 5 * time.Second
	}
	if o.HoldTTL <= 0 {
		o.HoldTTL = 2 * time.Minute
	}
	if o.ReadRetryMaxElapsed < 0 {
		o.ReadRetryMaxElapsed = 0
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 100
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
