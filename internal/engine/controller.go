package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jmalicki/arsync-sub001/internal/stats"
)

// limitFloor is the lowest ceiling the controller will shrink to.
const limitFloor = 1

// maxFdRetries bounds how often one operation is retried after a handled
// descriptor-exhaustion failure.
const maxFdRetries = 5

// Controller bounds how many entry tasks may be in flight. When the kernel
// reports descriptor exhaustion the ceiling is halved (down to limitFloor)
// and never raised again for the rest of the run.
type Controller struct {
	mu       sync.Mutex
	limit    int
	inflight int
	waitCh   chan struct{}

	stats  *stats.Collector
	logger *slog.Logger

	// onLower, when set, is notified with the new ceiling after each
	// reduction. Must not block.
	onLower func(newLimit int)
}

// NewController creates a controller with the given initial ceiling.
func NewController(limit int, st *stats.Collector, logger *slog.Logger) *Controller {
	if limit < limitFloor {
		limit = limitFloor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{limit: limit, stats: st, logger: logger}
}

// Acquire blocks until a permit is available or ctx is done.
func (c *Controller) Acquire(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.inflight < c.limit {
			c.inflight++
			c.mu.Unlock()
			return nil
		}
		if c.waitCh == nil {
			c.waitCh = make(chan struct{})
		}
		wait := c.waitCh
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Release returns a permit and wakes all waiters so they can re-check the
// ceiling, which may have dropped since they went to sleep.
func (c *Controller) Release() {
	c.mu.Lock()
	c.inflight--
	c.wakeLocked()
	c.mu.Unlock()
}

// Limit returns the current ceiling.
func (c *Controller) Limit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.limit
}

// Inflight returns the current number of outstanding permits.
func (c *Controller) Inflight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// ReportFailure inspects err and, if it is a descriptor-exhaustion
// condition, halves the ceiling and reports true so the caller retries the
// failed operation. Permits already issued keep running.
func (c *Controller) ReportFailure(err error) bool {
	if !isResourceExhausted(err) {
		return false
	}

	c.mu.Lock()
	newLimit := c.limit / 2
	if newLimit < limitFloor {
		newLimit = limitFloor
	}
	lowered := newLimit < c.limit
	if lowered {
		c.limit = newLimit
		c.stats.AddLimitReductions(1)
		c.logger.Warn("descriptor exhaustion, lowering concurrency", "limit", newLimit)
	}
	notify := c.onLower
	c.mu.Unlock()

	if lowered && notify != nil {
		notify(newLimit)
	}
	return true
}

func (c *Controller) wakeLocked() {
	if c.waitCh != nil {
		close(c.waitCh)
		c.waitCh = nil
	}
}

// withFdRetry runs fn, retrying after failures the controller handles.
// Retries back off briefly so in-flight work can release descriptors.
func withFdRetry(ctx context.Context, c *Controller, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || attempt >= maxFdRetries || !c.ReportFailure(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
}
