package paapi

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/ericfisherdev/productcache/internal/metrics"
)

// Throttle enforces a minimum interval between upstream requests across every
// Client that shares it. The burst is fixed at one, so an idle period never
// lets two requests through back to back.
type Throttle struct {
	limiter  *rate.Limiter
	interval time.Duration
}

// NewThrottle creates a Throttle allowing requestsPerSecond requests per
// second. Rates below 1 and non-finite rates are treated as 1.
func NewThrottle(requestsPerSecond float64) *Throttle {
	if math.IsNaN(requestsPerSecond) || math.IsInf(requestsPerSecond, 0) || requestsPerSecond < 1 {
		requestsPerSecond = 1
	}
	interval := time.Duration(float64(time.Second) / requestsPerSecond)
	return &Throttle{
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
	}
}

// Interval returns the minimum spacing between two requests.
func (t *Throttle) Interval() time.Duration {
	if t == nil {
		return 0
	}
	return t.interval
}

// Wait blocks until the next request slot is available or ctx is done.
// The slot is reserved under the limiter's lock; the sleep happens outside it.
func (t *Throttle) Wait(ctx context.Context) error {
	if t == nil {
		return nil
	}

	start := time.Now()
	err := t.limiter.Wait(ctx)
	metrics.RecordThrottleWait(time.Since(start))
	if err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
