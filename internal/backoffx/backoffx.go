// Package backoffx computes connection-retry delays for the pool,
// built on cenkalti/backoff/v4's exponential backoff implementation
// rather than hand-rolled multiplication so the saturation and
// interval semantics match a library already proven across the
// ecosystem.
package backoffx

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxInterval bounds the sequence so repeated failures can't overflow
// time.Duration; it is intentionally generous (the pool only ever
// asks for a handful of retries before the caller gives up waiting).
const maxInterval = time.Duration(math.MaxInt64 / 4)

// Next computes the delay that should follow a failed connection
// attempt whose previous delay was current, scaled by factor and
// saturating at maxInterval. RandomizationFactor is pinned to zero so
// the sequence is exactly current, current*factor, current*factor^2,
// ... with no jitter — deterministic and assertable by tests.
func Next(current time.Duration, factor float64) time.Duration {
	if current <= 0 {
		return 0
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = current
	eb.Multiplier = factor
	eb.RandomizationFactor = 0
	eb.MaxInterval = maxInterval
	eb.MaxElapsedTime = 0
	eb.Reset()

	// The first call to NextBackOff returns the current interval
	// unchanged and only then advances it by the multiplier; the
	// second call is therefore current*factor, exactly the value
	// the pool's retry schedule needs.
	_ = eb.NextBackOff()
	next := eb.NextBackOff()
	if next == backoff.Stop {
		return maxInterval
	}
	return next
}
