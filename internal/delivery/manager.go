// Package delivery turns assembled documents into short-lived download
// handles. Each handle can be dereferenced until its release delay elapses,
// after which it is gone for good.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
)

const (
	// DefaultReleaseDelay is how long a handle stays valid after creation.
	DefaultReleaseDelay = 5 * time.Second
	// DefaultTombstoneTTL is how long a released ID keeps answering
	// ErrHandleReleased before it is forgotten.
	DefaultTombstoneTTL = 10 * time.Minute
	// DefaultFilename is used when the caller does not name the download.
	DefaultFilename = "annotated.pdf"
	// ContentTypePDF is the media type of every delivered document.
	ContentTypePDF = "application/pdf"

	uriPrefix = "blob:webannotate/"
)

var (
	// ErrHandleReleased is returned when a handle existed but has expired.
	ErrHandleReleased = errors.New("handle has been released")
	// ErrUnknownHandle is returned for IDs this manager never issued.
	ErrUnknownHandle = errors.New("unknown handle")
	// ErrClosed is returned by Deliver after Close.
	ErrClosed = errors.New("delivery manager is closed")
)

// Handle describes one transient download.
type Handle struct {
	ID          string             `json:"id"`
	URI         string             `json:"uri"`
	Filename    string             `json:"filename"`
	ContentType string             `json:"contentType"`
	Size        int                `json:"size"`
	Dimensions  webview.Dimensions `json:"dimensions"`
	CreatedAt   time.Time          `json:"createdAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	SavedTo     string             `json:"savedTo,omitempty"`
}

// Sink saves a dereferenced handle somewhere durable.
type Sink interface {
	PutObject(ctx context.Context, name string, contentType string, data io.Reader) (string, error)
}

// Gauge tracks the number of live handles.
type Gauge interface {
	Inc()
	Dec()
}

// Config tunes the manager.
type Config struct {
	ReleaseDelay time.Duration
	TombstoneTTL time.Duration
}

// Option customises a Manager.
type Option func(*Manager)

// WithSink saves every delivered document through s.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithGauge reports live handle counts to g.
func WithGauge(g Gauge) Option {
	return func(m *Manager) { m.gauge = g }
}

type entry struct {
	handle Handle
	data   []byte
	timer  webview.Timer
}

// Manager owns the handle table.
type Manager struct {
	clock  webview.Clock
	ids    webview.IDGenerator
	delay  time.Duration
	ttl    time.Duration
	sink   Sink
	gauge  Gauge
	logger *zap.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	released map[string]time.Time
	closed   bool
}

// New builds a Manager.
func New(cfg Config, clock webview.Clock, ids webview.IDGenerator, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	delay := cfg.ReleaseDelay
	if delay <= 0 {
		delay = DefaultReleaseDelay
	}
	ttl := cfg.TombstoneTTL
	if ttl <= 0 {
		ttl = DefaultTombstoneTTL
	}
	m := &Manager{
		clock:    clock,
		ids:      ids,
		delay:    delay,
		ttl:      ttl,
		logger:   logger,
		entries:  make(map[string]*entry),
		released: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Filename returns the download name for name: the base name only, defaulted
// when empty, with a .pdf suffix.
func Filename(name string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		name = filepath.Base(filepath.Clean("/" + name))
	}
	if name == "" || name == "/" || name == "." {
		return DefaultFilename
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}

// Deliver registers doc under a new handle, saves it through the sink when
// one is configured, and schedules the release.
func (m *Manager) Deliver(ctx context.Context, doc webview.AssembledDocument, filename string) (Handle, error) {
	id, err := m.ids.NewID()
	if err != nil {
		return Handle{}, fmt.Errorf("allocate handle: %w", err)
	}
	now := m.clock.Now()
	h := Handle{
		ID:          id,
		URI:         uriPrefix + id,
		Filename:    Filename(filename),
		ContentType: ContentTypePDF,
		Size:        len(doc.Data),
		Dimensions:  doc.Dimensions,
		CreatedAt:   now,
		ExpiresAt:   now.Add(m.delay),
	}
	e := &entry{handle: h, data: doc.Data}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrClosed
	}
	m.entries[id] = e
	m.mu.Unlock()
	if m.gauge != nil {
		m.gauge.Inc()
	}

	timer := m.clock.AfterFunc(m.delay, func() { m.Release(id) })
	m.mu.Lock()
	if _, live := m.entries[id]; live {
		e.timer = timer
	} else {
		timer.Stop()
	}
	m.mu.Unlock()

	if m.sink != nil {
		savedTo, err := m.save(ctx, id)
		if err != nil {
			m.Release(id)
			return Handle{}, err
		}
		h.SavedTo = savedTo
		m.mu.Lock()
		e.handle.SavedTo = savedTo
		m.mu.Unlock()
	}

	m.logger.Info("export delivered",
		zap.String("handle", h.URI),
		zap.String("filename", h.Filename),
		zap.Int("bytes", h.Size),
		zap.String("saved_to", h.SavedTo),
	)
	return h, nil
}

func (m *Manager) save(ctx context.Context, id string) (string, error) {
	h, r, err := m.Open(id)
	if err != nil {
		return "", fmt.Errorf("open handle for save: %w", err)
	}
	savedTo, err := m.sink.PutObject(ctx, h.Filename, h.ContentType, r)
	if err != nil {
		return "", fmt.Errorf("save %s: %w", h.Filename, err)
	}
	return savedTo, nil
}

// Open dereferences a handle by ID or URI.
func (m *Manager) Open(ref string) (Handle, *bytes.Reader, error) {
	id := strings.TrimPrefix(ref, uriPrefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		return e.handle, bytes.NewReader(e.data), nil
	}
	if at, ok := m.released[id]; ok && m.clock.Now().Sub(at) < m.ttl {
		return Handle{}, nil, ErrHandleReleased
	}
	return Handle{}, nil, ErrUnknownHandle
}

// Release invalidates a handle immediately. It reports whether the handle
// was live.
func (m *Manager) Release(ref string) bool {
	id := strings.TrimPrefix(ref, uriPrefix)
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		now := m.clock.Now()
		m.pruneTombstones(now)
		delete(m.entries, id)
		m.released[id] = now
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	if m.gauge != nil {
		m.gauge.Dec()
	}
	m.logger.Debug("handle released", zap.String("handle", e.handle.URI))
	return true
}

// pruneTombstones forgets released IDs older than the TTL. m.mu must be held.
func (m *Manager) pruneTombstones(now time.Time) {
	for id, at := range m.released {
		if now.Sub(at) >= m.ttl {
			delete(m.released, id)
		}
	}
}

// Active returns the number of live handles.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close releases every live handle and rejects further deliveries.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Release(id)
	}
}
