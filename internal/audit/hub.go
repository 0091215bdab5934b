package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
)

var (
	// ErrHubClosed is returned by Record after Close.
	ErrHubClosed = errors.New("audit hub closed")
	// ErrDropped is returned by Record when the buffer is full.
	ErrDropped = errors.New("audit buffer full, record dropped")
)

// HubConfig controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatch: flush once this many records queue (default 100).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - Logger: optional structured logger used for warnings.
type HubConfig struct {
	BufferSize   int
	MaxBatch     int
	MaxBatchWait time.Duration
	SinkTimeout  time.Duration
	Logger       *zap.Logger
}

const (
	defaultBufferSize   = 1024
	defaultMaxBatch     = 100
	defaultMaxBatchWait = 500 * time.Millisecond
	defaultSinkTimeout  = 10 * time.Second
	dropLogInterval     = 5 * time.Second
)

// Sink consumes batches of export records.
type Sink interface {
	Consume(ctx context.Context, batch []webview.ExportRecord) error
	Close(ctx context.Context) error
}

// Hub buffers export records and hands them to sinks in batches on a
// background goroutine, so a delivered download never waits on the database
// or the message bus. It is safe for concurrent use.
type Hub struct {
	cfg         HubConfig
	sinks       []Sink
	records     chan webview.ExportRecord
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter dropLimiter
	dropped     atomic.Int64
	closed      atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine. The returned Hub is immediately
// ready to accept records.
func NewHub(cfg HubConfig, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		records:     make(chan webview.ExportRecord, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: dropLimiter{interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Record enqueues rec. It never blocks; a full buffer drops the record.
func (h *Hub) Record(_ context.Context, rec webview.ExportRecord) error {
	if h == nil {
		return nil
	}
	if h.closed.Load() {
		return ErrHubClosed
	}
	select {
	case h.records <- rec:
		return nil
	default:
		h.dropped.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			count := h.dropped.Swap(0)
			h.logger.Warn("export records dropped due to backpressure", zap.Int64("dropped", count))
		}
		return ErrDropped
	}
}

// Close drains buffered records, flushes and closes the sinks, and waits for
// the background goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]webview.ExportRecord, 0, h.cfg.MaxBatch)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	stopTimer(timer)
	timerActive := false
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
				if timerActive {
					stopTimer(timer)
					timerActive = false
				}
			} else if !timerActive {
				timer.Reset(h.cfg.MaxBatchWait)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			h.flush(batch)
			batch = batch[:0]
		case <-h.stopCh:
			if timerActive {
				stopTimer(timer)
			}
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []webview.ExportRecord) {
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatch {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

func (h *Hub) flush(batch []webview.ExportRecord) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]webview.ExportRecord(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, copyBatch); err != nil {
			h.logger.Warn("audit sink consume failed", zap.Int("records", len(copyBatch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("audit sink close failed", zap.Error(err))
		}
	}
}

type dropLimiter struct {
	interval time.Duration
	last     atomic.Int64
}

func (r *dropLimiter) Allow(now time.Time) bool {
	if r == nil || r.interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if nano-last < r.interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
