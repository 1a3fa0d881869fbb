package poller

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/angelmondragon/paylifecycle/pkg/config"
)

const (
	defaultInterval    = 5 * time.Second
	defaultMultiplier  = 1.5
	defaultMaxAttempts = 120
)

// Schedule bounds one polling run. At least one of MaxAttempts and MaxDuration is always in
// effect; a zero schedule falls back to the default attempt bound.
type Schedule struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Multiplier  float64
	// Jitter is the randomization factor applied to each interval, 0 disables it.
	Jitter      float64
	MaxAttempts int
	MaxDuration time.Duration
}

// ScheduleFromConfig maps the poller configuration onto a schedule.
func ScheduleFromConfig(cfg config.PollerConfig) Schedule {
	return Schedule{
		Interval:    cfg.Interval,
		MaxInterval: cfg.MaxInterval,
		Multiplier:  cfg.Multiplier,
		Jitter:      cfg.Jitter,
		MaxAttempts: cfg.MaxAttempts,
		MaxDuration: cfg.MaxDuration,
	}
}

func (s Schedule) normalized() Schedule {
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	if s.Multiplier < 1 {
		s.Multiplier = defaultMultiplier
	}
	if s.MaxInterval < s.Interval {
		s.MaxInterval = s.Interval
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		s.Jitter = 0
	}
	if s.MaxAttempts <= 0 && s.MaxDuration <= 0 {
		s.MaxAttempts = defaultMaxAttempts
	}
	return s
}

// backOff builds the wait sequence between ticks.
func (s Schedule) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.Interval
	b.MaxInterval = s.MaxInterval
	b.Multiplier = s.Multiplier
	b.RandomizationFactor = s.Jitter
	b.Reset()
	return b
}

// attemptsExhausted reports whether the attempt bound is reached.
func (s Schedule) attemptsExhausted(attempts int) bool {
	return s.MaxAttempts > 0 && attempts >= s.MaxAttempts
}

// exceedsDuration reports whether waiting another wait would cross the duration bound.
func (s Schedule) exceedsDuration(elapsed, wait time.Duration) bool {
	return s.MaxDuration > 0 && elapsed+wait > s.MaxDuration
}
