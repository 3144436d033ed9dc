package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool defaults.
const (
	DefaultCoreSize      = 2
	DefaultMaxSize       = 5
	DefaultQueueCapacity = 100
	DefaultKeepAlive     = 60 * time.Second
)

var (
	// ErrQueueFull is returned when the queue is full and every worker slot is taken.
	ErrQueueFull = errors.New("extraction queue is full")
	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("extraction pool is closed")
)

// PoolConfig sizes a Pool. Zero values select the defaults.
type PoolConfig struct {
	CoreSize      int
	MaxSize       int
	QueueCapacity int
	KeepAlive     time.Duration
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.CoreSize <= 0 {
		c.CoreSize = DefaultCoreSize
	}
	if c.MaxSize < c.CoreSize {
		c.MaxSize = max(DefaultMaxSize, c.CoreSize)
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	return c
}

// Pool is a bounded worker pool. CoreSize workers live until Close. When the
// queue is full an extra worker is started, up to MaxSize in total, and it
// exits after KeepAlive without work.
type Pool struct {
	cfg   PoolConfig
	queue chan func()
	slots *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts the core workers.
func NewPool(cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:   cfg,
		queue: make(chan func(), cfg.QueueCapacity),
		slots: semaphore.NewWeighted(int64(cfg.MaxSize)),
	}
	for i := 0; i < cfg.CoreSize; i++ {
		_ = p.slots.Acquire(context.Background(), 1)
		p.wg.Add(1)
		go p.worker(nil, true)
	}
	return p
}

// Config returns the effective sizing.
func (p *Pool) Config() PoolConfig { return p.cfg }

// Submit enqueues fn without blocking.
func (p *Pool) Submit(fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- fn:
		return nil
	default:
	}
	if p.slots.TryAcquire(1) {
		p.wg.Add(1)
		go p.worker(fn, false)
		return nil
	}
	return ErrQueueFull
}

// Queued is the number of jobs waiting for a worker.
func (p *Pool) Queued() int { return len(p.queue) }

func (p *Pool) worker(first func(), core bool) {
	defer p.wg.Done()
	defer p.slots.Release(1)
	if first != nil {
		p.run(first)
	}
	if core {
		for fn := range p.queue {
			p.run(fn)
		}
		return
	}
	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()
	for {
		select {
		case fn, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(fn)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Extraction worker panic", "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Close stops accepting work and waits for queued jobs to drain or ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
