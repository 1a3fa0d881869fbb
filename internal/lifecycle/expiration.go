package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/paylifecycle/pkg/logger"
)

// ErrMalformedObservation marks deadline data that could not be parsed.
var ErrMalformedObservation = errors.New("malformed observation")

var deadlineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
}

// ExpirationPolicy decides whether a pending intent has outlived its deadline.
// It never reads the wall clock; callers pass now.
type ExpirationPolicy struct {
	logg *logger.Logger
}

func NewExpirationPolicy(logg *logger.Logger) ExpirationPolicy {
	return ExpirationPolicy{logg: logg}
}

// IsExpired is strict: a deadline equal to now has not passed. A nil deadline never expires.
func (p ExpirationPolicy) IsExpired(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil || expiresAt.IsZero() {
		return false
	}
	return now.After(*expiresAt)
}

// IsExpiredRaw evaluates a deadline still in its wire form. Malformed input fails open.
func (p ExpirationPolicy) IsExpiredRaw(ctx context.Context, raw string, now time.Time) bool {
	deadline, err := ParseDeadline(raw)
	if err != nil {
		if p.logg != nil {
			logCtx := p.logg.WithFields(ctx, map[string]any{
				"expires_at_raw": raw,
				"reason":         "malformed_observation",
			})
			p.logg.Warn(logCtx, "ignoring unparseable expiration deadline")
		}
		return false
	}
	return p.IsExpired(deadline, now)
}

// ParseDeadline parses a gateway deadline. Blank input returns (nil, nil).
func ParseDeadline(raw string) (*time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	for _, layout := range deadlineLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			utc := parsed.UTC()
			return &utc, nil
		}
	}
	return nil, fmt.Errorf("%w: expiration %q", ErrMalformedObservation, raw)
}
