package ratelimit

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRejected is returned by Acquire when no token is free and the wait
// queue is full.
var ErrRejected = errors.New("rate limit exceeded")

type Options struct {
	TokenLimit          int
	TokensPerPeriod     int
	ReplenishmentPeriod time.Duration
	QueueLimit          int
	AutoReplenishment   bool
}

func (o Options) Validate() error {
	if o.TokenLimit < 1 {
		return fmt.Errorf("token_limit must be at least 1, got %d", o.TokenLimit)
	}
	if o.TokensPerPeriod < 1 {
		return fmt.Errorf("tokens_per_period must be at least 1, got %d", o.TokensPerPeriod)
	}
	if o.ReplenishmentPeriod <= 0 {
		return fmt.Errorf("replenishment_period must be positive, got %s", o.ReplenishmentPeriod)
	}
	if o.QueueLimit < 0 {
		return fmt.Errorf("queue_limit must not be negative, got %d", o.QueueLimit)
	}
	return nil
}

type waiter struct {
	ready   chan struct{}
	granted bool
}

// TokenBucket admits one request per token. Waiting requests are served
// oldest first, and new arrivals never overtake a non-empty queue.
type TokenBucket struct {
	opts Options

	mu     sync.Mutex
	tokens int
	queue  *list.List

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func New(opts Options) (*TokenBucket, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	b := &TokenBucket{
		opts:   opts,
		tokens: opts.TokenLimit,
		queue:  list.New(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}

	if opts.AutoReplenishment {
		go b.run()
	} else {
		close(b.done)
	}
	return b, nil
}

// Acquire takes a token, queueing behind earlier callers when none is free.
// It fails with ErrRejected when the queue is full and with the context's
// error when ctx ends first.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.queue.Len() == 0 && b.tokens > 0 {
		b.tokens--
		b.mu.Unlock()
		return nil
	}
	if b.queue.Len() >= b.opts.QueueLimit {
		b.mu.Unlock()
		return ErrRejected
	}

	w := &waiter{ready: make(chan struct{})}
	elem := b.queue.PushBack(w)
	b.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if w.granted {
			// Lost the race with a grant; hand the token on.
			b.addLocked(1)
		} else {
			b.queue.Remove(elem)
		}
		return ctx.Err()
	}
}

// Refund returns exactly one token to the bucket, capped at TokenLimit.
func (b *TokenBucket) Refund() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(1)
}

// TryReplenish adds one period's worth of tokens. It is a no-op returning
// false when the bucket replenishes itself.
func (b *TokenBucket) TryReplenish() bool {
	if b.opts.AutoReplenishment {
		return false
	}
	b.replenish()
	return true
}

func (b *TokenBucket) Available() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

func (b *TokenBucket) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queue.Len()
}

// Close stops automatic replenishment. Queued callers keep waiting for
// their context or a refund.
func (b *TokenBucket) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

func (b *TokenBucket) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.opts.ReplenishmentPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.replenish()
		}
	}
}

func (b *TokenBucket) replenish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(b.opts.TokensPerPeriod)
}

// addLocked serves queued waiters first and banks the remainder.
func (b *TokenBucket) addLocked(n int) {
	b.tokens += n
	if b.tokens > b.opts.TokenLimit {
		b.tokens = b.opts.TokenLimit
	}

	for b.tokens > 0 && b.queue.Len() > 0 {
		front := b.queue.Front()
		w := b.queue.Remove(front).(*waiter)
		b.tokens--
		w.granted = true
		close(w.ready)
	}
}
