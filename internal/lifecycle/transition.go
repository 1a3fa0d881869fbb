package lifecycle

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/paylifecycle/pkg/enums"
)

// ErrInvalidTransition is returned when an observation conflicts with a terminal state.
var ErrInvalidTransition = errors.New("invalid payment intent transition")

// Decision is the outcome of evaluating one observation against the current state.
type Decision struct {
	From enums.PaymentStatus
	To   enums.PaymentStatus
	// Observed is the normalized status that was reported.
	Observed enums.PaymentStatus
	// ForcedExpiry is set when the deadline overrode the observation.
	ForcedExpiry bool
}

// Changed reports whether the decision moves the intent to a new state.
func (d Decision) Changed() bool {
	return d.From != d.To
}

// Overridden reports whether a terminal observation lost to the deadline.
func (d Decision) Overridden() bool {
	return d.ForcedExpiry && d.Observed.IsTerminal() && d.Observed != enums.PaymentStatusExpired
}

// Decide applies the transition table. Expiration is evaluated first: a pending intent past
// its deadline always moves to expired. Terminal intents only accept their own state again.
func Decide(current, observed enums.PaymentStatus, pastDeadline bool) (Decision, error) {
	decision := Decision{From: current, To: current, Observed: observed}

	if !observed.IsValid() {
		observed = enums.PaymentStatusPending
		decision.Observed = observed
	}

	switch {
	case current == enums.PaymentStatusPending:
		if pastDeadline {
			decision.To = enums.PaymentStatusExpired
			decision.ForcedExpiry = true
			return decision, nil
		}
		decision.To = observed
		return decision, nil
	case current.IsTerminal():
		if observed == current {
			return decision, nil
		}
		return decision, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, observed)
	default:
		return decision, fmt.Errorf("%w: unknown current state %q", ErrInvalidTransition, current)
	}
}
