// Package rate caps the aggregate request rate of all virtual users.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a leaky bucket shared by every virtual user of a run.
//
// Instead of counting available tokens, the bucket tracks when the next
// request may start. Callers that are behind schedule proceed immediately;
// callers that are ahead sleep until their slot. Bursts are bounded by
// the burst capacity (1 by default, strict spacing).
//
// # Thread Safety
//
// Limiter is safe for concurrent use. Reservation happens under a mutex,
// sleeping happens outside of it.
type Limiter struct {
	mu        sync.Mutex
	perSecond float64
	burst     float64
	credit    float64
	lastDrip  time.Time
	now       func() time.Time

	granted atomic.Int64
	waited  atomic.Int64
}

// NewLimiter creates a limiter admitting perSecond requests per second.
// A non-positive rate yields a nil limiter, which never blocks.
func NewLimiter(perSecond float64) *Limiter {
	return newLimiter(perSecond, 1, time.Now)
}

func newLimiter(perSecond, burst float64, now func() time.Time) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perSecond: perSecond,
		burst:     burst,
		credit:    burst,
		lastDrip:  now(),
		now:       now,
	}
}

// Reserve books the next slot and returns when it starts. The returned
// time may be in the past, meaning the caller can proceed immediately.
func (l *Limiter) Reserve() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.lastDrip).Seconds(); elapsed > 0 {
		l.credit += elapsed * l.perSecond
		if l.credit > l.burst {
			l.credit = l.burst
		}
		l.lastDrip = now
	}

	l.granted.Add(1)
	if l.credit >= 1 {
		l.credit--
		return now
	}

	// Book a future slot. lastDrip moves to that slot so the time spent
	// sleeping is not credited twice.
	wait := time.Duration((1 - l.credit) / l.perSecond * float64(time.Second))
	l.credit = 0
	next := l.lastDrip.Add(wait)
	l.lastDrip = next
	l.waited.Add(int64(next.Sub(now)))
	return next
}

// Wait blocks until the caller's slot or until ctx is done. A nil limiter
// returns immediately.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return ctx.Err()
	}

	d := time.Until(l.Reserve())
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Rate returns the admitted requests per second.
func (l *Limiter) Rate() float64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perSecond
}

// Stats describes limiter activity.
type Stats struct {
	Rate      float64       `json:"rate"`
	Granted   int64         `json:"granted"`
	TotalWait time.Duration `json:"totalWait"`
}

// Stats returns a copy of the limiter counters.
func (l *Limiter) Stats() Stats {
	if l == nil {
		return Stats{}
	}
	return Stats{
		Rate:      l.Rate(),
		Granted:   l.granted.Load(),
		TotalWait: time.Duration(l.waited.Load()),
	}
}
