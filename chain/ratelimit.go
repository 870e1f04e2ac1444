// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// rateLimiter spaces out node calls by waiting for one tick per call.
type rateLimiter struct {
	mu     sync.Mutex
	ticker ticker.Ticker
}

// newRateLimiter returns a limiter allowing perMinute calls a minute.
func newRateLimiter(perMinute uint32) *rateLimiter {
	return newRateLimiterWithTicker(
		ticker.New(time.Minute / time.Duration(perMinute)),
	)
}

// newRateLimiterWithTicker returns a limiter driven by tk.
func newRateLimiterWithTicker(tk ticker.Ticker) *rateLimiter {
	tk.Resume()

	return &rateLimiter{ticker: tk}
}

// wait blocks until the next call is allowed or ctx is done.
func (r *rateLimiter) wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.ticker.Ticks():
		return nil

	case <-ctx.Done():
		return ctx.Err()
	}
}

// stop releases the limiter's ticker.
func (r *rateLimiter) stop() {
	r.ticker.Stop()
}
