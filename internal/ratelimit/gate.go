// Package ratelimit bounds the rate of outbound requests to the vendor API.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("rate gate closed")

// Acquirer is anything that can admit one request.
type Acquirer interface {
	Acquire(ctx context.Context) error
}

// Gate admits at most Requests per Window. Admissions are spaced
// Window/Requests apart, with up to Burst admitted back to back after an
// idle period. Acquire never rejects, it only delays. Safe for
// concurrent use.
type Gate struct {
	limiter  *rate.Limiter
	requests int
	window   time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewGate returns a Gate admitting requests per window. burst is clamped
// to [1, requests].
func NewGate(requests int, window time.Duration, burst int) (*Gate, error) {
	if requests <= 0 {
		return nil, fmt.Errorf("rate gate requests must be positive, got %d", requests)
	}
	if window <= 0 {
		return nil, fmt.Errorf("rate gate window must be positive, got %s", window)
	}
	burst = max(1, min(burst, requests))
	return &Gate{
		limiter:  rate.NewLimiter(rate.Every(window/time.Duration(requests)), burst),
		requests: requests,
		window:   window,
		done:     make(chan struct{}),
	}, nil
}

// Acquire blocks until another request may be issued, ctx is done, or the
// gate is closed.
func (g *Gate) Acquire(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-g.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := g.limiter.Wait(ctx); err != nil {
		select {
		case <-g.done:
			return ErrClosed
		default:
		}
		return fmt.Errorf("waiting for rate gate: %w", err)
	}
	return nil
}

// Close releases waiters; subsequent Acquire calls fail with ErrClosed.
func (g *Gate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.done)
	}
	return nil
}

// String describes the configured quota, e.g. "5 per 10s".
func (g *Gate) String() string {
	return fmt.Sprintf("%d per %s", g.requests, g.window)
}
