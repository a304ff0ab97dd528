// Package ratelimit paces outbound requests to the source marketplace.
// Scrapes are spaced with a jittered delay so bulk runs do not hammer the
// site at machine speed.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter blocks until the next request is allowed to go out.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Jittered spaces calls by a random delay in [min, max). The randomness
// keeps bulk runs from producing a fixed request cadence.
type Jittered struct {
	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	last     time.Time
}

func NewJittered(minDelay, maxDelay time.Duration) *Jittered {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Jittered{minDelay: minDelay, maxDelay: maxDelay}
}

func (j *Jittered) Wait(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	delay := j.minDelay
	if delta := j.maxDelay - j.minDelay; delta > 0 {
		delay += time.Duration(rand.Int63n(int64(delta)))
	}

	if elapsed := time.Since(j.last); elapsed < delay {
		timer := time.NewTimer(delay - elapsed)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	j.last = time.Now()
	return nil
}

// SetDelay replaces the delay window. Takes effect from the next Wait.
func (j *Jittered) SetDelay(minDelay, maxDelay time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.minDelay = minDelay
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	j.maxDelay = maxDelay
}

const (
	backoffFactor = 1.5
	backoffAfter  = 3
	speedupAfter  = 5
	floorDelay    = 1 * time.Second
	ceilMinDelay  = 60 * time.Second
	ceilMaxDelay  = 120 * time.Second
)

// Adaptive wraps Jittered and widens the delay window after repeated
// failures, which on the source site usually means throttling or a captcha
// wall. Sustained success narrows it back toward the configured floor.
type Adaptive struct {
	*Jittered
	errors    int
	successes int
}

func NewAdaptive(minDelay, maxDelay time.Duration) *Adaptive {
	return &Adaptive{Jittered: NewJittered(minDelay, maxDelay)}
}

func (a *Adaptive) RecordSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.successes++
	a.errors = 0
	if a.successes >= speedupAfter {
		a.successes = 0
		a.minDelay = clampMin(time.Duration(float64(a.minDelay) * 0.9))
	}
}

func (a *Adaptive) RecordError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.errors++
	a.successes = 0
	if a.errors >= backoffAfter {
		a.errors = 0
		a.minDelay = min(time.Duration(float64(a.minDelay)*backoffFactor), ceilMinDelay)
		a.maxDelay = min(time.Duration(float64(a.maxDelay)*backoffFactor), ceilMaxDelay)
		if a.maxDelay < a.minDelay {
			a.maxDelay = a.minDelay
		}
	}
}

func clampMin(d time.Duration) time.Duration {
	if d < floorDelay {
		return floorDelay
	}
	return d
}
