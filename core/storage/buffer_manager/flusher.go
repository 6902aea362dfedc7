package buffermanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	diskmanager "github.com/strata-db/strata/core/storage/disk_manager"
)

// FlusherConfig holds the settings for the background dirty-page flusher.
type FlusherConfig struct {
	// Enabled toggles the flusher; a disabled flusher's Start is a no-op.
	Enabled bool `yaml:"enabled"`
	// Interval is how often the pool is scanned for dirty frames.
	Interval time.Duration `yaml:"interval"`
	// PagesPerSecond caps the write-back rate. Zero means unlimited.
	PagesPerSecond float64 `yaml:"pages_per_second"`
}

// DefaultFlusherConfig returns a conservative write-back setup.
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		Enabled:        true,
		Interval:       time.Second,
		PagesPerSecond: 256,
	}
}

// Flusher periodically writes dirty frames back to disk so eviction rarely
// has to flush on the critical path. It is an availability aid only:
// correctness never depends on it, since eviction and FlushAll flush dirty
// frames themselves.
type Flusher struct {
	pool    *BufferPoolManager
	cfg     FlusherConfig
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFlusher wires a flusher to a pool. Start must be called to run it.
func NewFlusher(pool *BufferPoolManager, cfg FlusherConfig, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	var limiter *rate.Limiter
	if cfg.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}
	return &Flusher{
		pool:    pool,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Start launches the write-back loop. It returns immediately; the loop stops
// when ctx is cancelled or Stop is called.
func (f *Flusher) Start(ctx context.Context) {
	if !f.cfg.Enabled {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return // already running
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go f.run(ctx, f.done)
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (f *Flusher) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *Flusher) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.sweep(ctx)
		}
	}
}

// sweep flushes the dirty frames found in one snapshot of the pool.
func (f *Flusher) sweep(ctx context.Context) {
	for _, block := range f.pool.DirtyBlocks() {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return
			}
		}
		err := f.pool.FlushPage(block)
		if err == nil {
			continue
		}
		// The frame may have been evicted (and therefore flushed) between
		// the snapshot and now; that is not a failure.
		if errors.Is(err, diskmanager.ErrPageNotResident) {
			continue
		}
		f.logger.Warn("background flush failed", zap.Stringer("block", block), zap.Error(err))
	}
}
