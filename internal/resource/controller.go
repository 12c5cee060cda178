package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the ceiling.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits. Zero values mean unlimited, except
// MaxBackgroundWorkers which defaults to 1.
type Config struct {
	MemoryLimitBytes     int64
	MaxBackgroundWorkers int64
	IOLimitBytesPerSec   int64
}

// Usage is a point-in-time view of memory accounting.
type Usage struct {
	Used  int64
	Limit int64
}

// Ratio returns Used/Limit, or 0 without a limit.
func (u Usage) Ratio() float64 {
	if u.Limit <= 0 {
		return 0
	}
	return float64(u.Used) / float64(u.Limit)
}

// Controller tracks memory, background worker slots and IO tokens.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	denied  atomic.Int64

	bgSem    *semaphore.Weighted
	bgActive atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}
	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves bytes without blocking.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		c.denied.Add(1)
		return fmt.Errorf("%w: need %d bytes, %d of %d in use",
			ErrMemoryLimitExceeded, bytes, c.memUsed.Load(), c.cfg.MemoryLimitBytes)
	}
	c.memUsed.Add(bytes)
	return nil
}

// ReleaseMemory returns bytes reserved by AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the ceiling, 0 if unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// Usage returns the current memory accounting.
func (c *Controller) Usage() Usage {
	return Usage{Used: c.MemoryUsage(), Limit: c.MemoryLimit()}
}

// Denied returns how many reservations failed.
func (c *Controller) Denied() int64 {
	if c == nil {
		return 0
	}
	return c.denied.Load()
}

// AcquireBackground blocks until a worker slot is free or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.bgSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.bgActive.Add(1)
	return nil
}

// TryAcquireBackground reserves a worker slot if one is free.
func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	if !c.bgSem.TryAcquire(1) {
		return false
	}
	c.bgActive.Add(1)
	return true
}

// ReleaseBackground frees a worker slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgActive.Add(-1)
	c.bgSem.Release(1)
}

// BackgroundActive returns the number of held worker slots.
func (c *Controller) BackgroundActive() int64 {
	if c == nil {
		return 0
	}
	return c.bgActive.Load()
}

// AcquireIO waits until the limiter admits bytes. Requests larger than the
// bucket are admitted in bucket-sized steps.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
