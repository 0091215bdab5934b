// Package session holds the embedding coordinator: the single owner of the
// current resolved session and of the loading/error/ready state derived from
// it.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/clock/system"
	"github.com/JakeFAU/webannotate/internal/delivery"
	"github.com/JakeFAU/webannotate/internal/urlnorm"
	"github.com/JakeFAU/webannotate/internal/webview"
)

var (
	// ErrBusy is returned when a load or download is requested while another
	// one is still in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrStaleCompletion is returned when the session was reset or replaced
	// while the request was in flight. The result is discarded.
	ErrStaleCompletion = errors.New("request completed after the session changed")
)

// Phase is the coordinator state.
type Phase string

// Coordinator phases.
const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseError   Phase = "error"
)

// Outcome labels reported to the Observer.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeStale    = "stale"
)

// Snapshot is an immutable view of the coordinator.
type Snapshot struct {
	Phase      Phase                    `json:"phase"`
	Session    *webview.ResolvedSession `json:"session,omitempty"`
	Message    string                   `json:"message,omitempty"`
	Generation uint64                   `json:"generation"`
}

// ShowSpinner reports whether a loading indicator should be visible.
func (s Snapshot) ShowSpinner() bool {
	return s.Phase == PhaseLoading
}

// ControlsDisabled reports whether load and download should be refused.
func (s Snapshot) ControlsDisabled() bool {
	return s.Phase == PhaseLoading
}

// ErrorMessage returns the message to display, empty unless in PhaseError.
func (s Snapshot) ErrorMessage() string {
	if s.Phase != PhaseError {
		return ""
	}
	return s.Message
}

// Exporter assembles the annotated document for a session.
type Exporter interface {
	Export(ctx context.Context, session webview.ResolvedSession) (webview.AssembledDocument, error)
}

// Deliverer hands assembled documents out as transient handles.
type Deliverer interface {
	Deliver(ctx context.Context, doc webview.AssembledDocument, filename string) (delivery.Handle, error)
	Release(ref string) bool
}

// Recorder is told about every delivered export.
type Recorder interface {
	Record(ctx context.Context, rec webview.ExportRecord) error
}

// Observer receives operation outcomes, typically for metrics.
type Observer interface {
	ObserveResolve(outcome string, elapsed time.Duration)
	ObserveExport(outcome string, elapsed time.Duration, size int)
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithViewer injects the viewer used by EnterBrowseMode.
func WithViewer(v webview.Viewer) Option {
	return func(c *Coordinator) { c.viewer = v }
}

// WithRecorder reports delivered exports to r.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithClock overrides the clock used to time operations.
func WithClock(clk webview.Clock) Option {
	return func(c *Coordinator) { c.clock = clk }
}

// Coordinator drives one embedding session. It is safe for concurrent use;
// the lock is never held across network or viewer calls.
type Coordinator struct {
	resolver  webview.Resolver
	exporter  Exporter
	deliverer Deliverer
	viewer    webview.Viewer
	recorder  Recorder
	observer  Observer
	clock     webview.Clock
	logger    *zap.Logger

	mu    sync.Mutex
	state Snapshot
}

// New builds a Coordinator in PhaseIdle.
func New(resolver webview.Resolver, exporter Exporter, deliverer Deliverer, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		resolver:  resolver,
		exporter:  exporter,
		deliverer: deliverer,
		clock:     system.New(),
		logger:    logger,
		state:     Snapshot{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset discards the session and its annotations and returns to PhaseIdle.
// Requests still in flight will complete as stale.
func (c *Coordinator) Reset(ctx context.Context) Snapshot {
	c.mu.Lock()
	c.state = Snapshot{Phase: PhaseIdle, Generation: c.state.Generation + 1}
	snap := c.state
	c.mu.Unlock()
	c.resetViewer(ctx)
	return snap
}

// Submit validates raw and resolves it through the proxy. The previous
// session is discarded as soon as a new one is requested.
func (c *Coordinator) Submit(ctx context.Context, raw string, headers http.Header) (Snapshot, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseLoading {
		snap := c.state
		c.mu.Unlock()
		return snap, ErrBusy
	}
	target, err := urlnorm.Normalize(raw)
	if err != nil {
		c.state = Snapshot{Phase: PhaseError, Message: webview.UserMessage(err), Generation: c.state.Generation + 1}
		snap := c.state
		c.mu.Unlock()
		c.resetViewer(ctx)
		c.observeResolve(err, c.clock.Now())
		return snap, err
	}
	c.state = Snapshot{Phase: PhaseLoading, Generation: c.state.Generation + 1}
	gen := c.state.Generation
	c.mu.Unlock()
	c.resetViewer(ctx)

	started := c.clock.Now()
	res, err := c.resolver.Resolve(ctx, target, headers)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Generation != gen {
		c.logger.Info("discarding stale resolve", zap.String("url", target.String()))
		c.observe(OutcomeStale, started, 0, false)
		return c.state, ErrStaleCompletion
	}
	if err != nil {
		c.state = Snapshot{Phase: PhaseError, Message: webview.UserMessage(err), Generation: gen}
		c.logger.Warn("resolve failed", zap.String("url", target.String()), zap.Error(err))
		c.observeResolve(err, started)
		return c.state, err
	}

	if res.Degraded {
		c.logger.Warn("resolve degraded", zap.String("url", target.String()), zap.String("reason", res.Reason))
		c.observe(OutcomeDegraded, started, 0, false)
	} else {
		c.observe(OutcomeOK, started, 0, false)
	}
	sess := res.Session
	c.state = Snapshot{Phase: PhaseReady, Session: &sess, Generation: gen}
	c.logger.Info("session ready",
		zap.String("url", sess.ValidURL.String()),
		zap.String("embed_path", sess.EmbedPath),
	)
	return c.state, nil
}

// Download exports the current session and delivers it under filename. On
// failure the session is kept so the user can retry.
func (c *Coordinator) Download(ctx context.Context, filename string) (delivery.Handle, Snapshot, error) {
	c.mu.Lock()
	if c.state.Phase == PhaseLoading {
		snap := c.state
		c.mu.Unlock()
		return delivery.Handle{}, snap, ErrBusy
	}
	if c.state.Session == nil {
		err := webview.NewError(webview.KindPrecondition, webview.MsgInvalidURL, errors.New("no resolved session"))
		c.state = Snapshot{Phase: PhaseError, Message: err.Message, Generation: c.state.Generation}
		snap := c.state
		c.mu.Unlock()
		c.observe(err.Kind.String(), c.clock.Now(), 0, true)
		return delivery.Handle{}, snap, err
	}
	sess := *c.state.Session
	c.state = Snapshot{Phase: PhaseLoading, Session: &sess, Generation: c.state.Generation + 1}
	gen := c.state.Generation
	c.mu.Unlock()

	started := c.clock.Now()
	handle, err := c.exportAndDeliver(ctx, sess, filename)

	c.mu.Lock()
	if c.state.Generation != gen {
		snap := c.state
		c.mu.Unlock()
		if err == nil {
			c.deliverer.Release(handle.ID)
		}
		c.logger.Info("discarding stale download", zap.String("url", sess.ValidURL.String()))
		c.observe(OutcomeStale, started, 0, true)
		return delivery.Handle{}, snap, ErrStaleCompletion
	}
	if err != nil {
		c.state = Snapshot{Phase: PhaseError, Session: &sess, Message: webview.UserMessage(err), Generation: gen}
		snap := c.state
		c.mu.Unlock()
		c.logger.Warn("download failed", zap.String("url", sess.ValidURL.String()), zap.Error(err))
		c.observe(webview.KindOf(err).String(), started, 0, true)
		return delivery.Handle{}, snap, err
	}
	c.state = Snapshot{Phase: PhaseReady, Session: &sess, Generation: gen}
	snap := c.state
	c.mu.Unlock()

	c.observe(OutcomeOK, started, handle.Size, true)
	c.record(ctx, sess, handle)
	return handle, snap, nil
}

func (c *Coordinator) exportAndDeliver(ctx context.Context, sess webview.ResolvedSession, filename string) (delivery.Handle, error) {
	doc, err := c.exporter.Export(ctx, sess)
	if err != nil {
		return delivery.Handle{}, err
	}
	return c.deliverer.Deliver(ctx, doc, filename)
}

// EnterBrowseMode switches the viewer to its view-only tool group. It does
// not touch the coordinator state and does nothing without a viewer.
func (c *Coordinator) EnterBrowseMode(ctx context.Context) error {
	if c.viewer == nil {
		return nil
	}
	return c.viewer.SetToolbarGroup(ctx, webview.ToolbarGroupView)
}

// EnterAnnotateMode switches the viewer back to its drawing tool group. Like
// EnterBrowseMode it leaves the coordinator state alone.
func (c *Coordinator) EnterAnnotateMode(ctx context.Context) error {
	if c.viewer == nil {
		return nil
	}
	return c.viewer.SetToolbarGroup(ctx, webview.ToolbarGroupAnnotate)
}

// resetViewer prepares the viewer for a new session: the previous
// annotation layer is dropped and the drawing tools are active again.
func (c *Coordinator) resetViewer(ctx context.Context) {
	if c.viewer == nil {
		return
	}
	if importer, ok := c.viewer.(webview.AnnotationImporter); ok {
		importer.ClearAnnotations()
	}
	if err := c.viewer.SetToolbarGroup(ctx, webview.ToolbarGroupAnnotate); err != nil {
		c.logger.Warn("reset toolbar group", zap.Error(err))
	}
}

func (c *Coordinator) record(ctx context.Context, sess webview.ResolvedSession, h delivery.Handle) {
	if c.recorder == nil {
		return
	}
	rec := webview.ExportRecord{
		ID:        h.ID,
		SourceURL: sess.ValidURL,
		Filename:  h.Filename,
		SizeBytes: h.Size,
		Width:     h.Dimensions.Width,
		Height:    h.Dimensions.Height,
		HandleURI: h.URI,
		SavedTo:   h.SavedTo,
		CreatedAt: h.CreatedAt,
	}
	if err := c.recorder.Record(ctx, rec); err != nil {
		c.logger.Warn("record export", zap.String("handle", h.URI), zap.Error(err))
	}
}

func (c *Coordinator) observeResolve(err error, started time.Time) {
	c.observe(webview.KindOf(err).String(), started, 0, false)
}

func (c *Coordinator) observe(outcome string, started time.Time, size int, export bool) {
	if c.observer == nil {
		return
	}
	elapsed := c.clock.Now().Sub(started)
	if export {
		c.observer.ObserveExport(outcome, elapsed, size)
		return
	}
	c.observer.ObserveResolve(outcome, elapsed)
}
