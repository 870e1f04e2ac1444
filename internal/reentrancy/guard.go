// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package reentrancy provides a non-blocking exclusive entry guard that can
// detect a call re-entering itself through a callback.
package reentrancy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrReentrant is returned when the guard is already held, either by the
// same logical call or by another caller.
var ErrReentrant = errors.New("reentrant call detected")

// entry marks a context as running inside a guard.
type entry struct {
	active atomic.Bool
}

// Guard is a scoped binary lock. Enter never blocks: it fails immediately if
// the guard is held. The zero value is ready to use.
type Guard struct {
	held atomic.Bool
}

// Enter acquires the guard. The returned context carries a marker that lets
// Entered recognise calls made on behalf of this entry, and the returned
// release function must be called on every exit path, typically with defer.
// Calling release more than once has no effect.
func (g *Guard) Enter(ctx context.Context) (context.Context, func(),
	error) {

	if g.Entered(ctx) {
		return ctx, func() {}, ErrReentrant
	}

	if !g.held.CompareAndSwap(false, true) {
		return ctx, func() {}, ErrReentrant
	}

	e := &entry{}
	e.active.Store(true)

	var once sync.Once
	release := func() {
		once.Do(func() {
			e.active.Store(false)
			g.held.Store(false)
		})
	}

	return context.WithValue(ctx, g, e), release, nil
}

// Entered reports whether ctx was derived from a still active entry of this
// guard.
func (g *Guard) Entered(ctx context.Context) bool {
	e, ok := ctx.Value(g).(*entry)
	return ok && e.active.Load()
}

// Held reports whether any caller currently holds the guard.
func (g *Guard) Held() bool {
	return g.held.Load()
}
