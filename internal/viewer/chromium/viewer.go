// Package chromium implements the document viewer on headless Chrome. The
// rendered page image and the annotation overlay are composed into one HTML
// page which Chrome prints to PDF at the page size.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
	"github.com/JakeFAU/webannotate/internal/xfdf"
)

var (
	// ErrReadOnly is returned when annotations are imported in browse mode.
	ErrReadOnly = webview.ErrReadOnly
	// ErrUnsupportedBlob is returned for blobs that are not raster images.
	ErrUnsupportedBlob = errors.New("unsupported document blob")
)

var supportedImages = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// Config controls the browser.
type Config struct {
	ExecPath      string
	MaxParallel   int
	RenderTimeout time.Duration
	NoSandbox     bool
}

// Viewer implements webview.Viewer and webview.AnnotationImporter.
type Viewer struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger

	mu    sync.RWMutex
	xfdf  string
	group string
}

// New prepares a browser allocator. Chrome itself starts on the first
// FileData call.
func New(cfg Config, logger *zap.Logger) (*Viewer, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("max parallel must be >= 0")
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Viewer{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close shuts the browser down.
func (v *Viewer) Close() {
	v.allocCancel()
}

// CreateDocument wraps a raster image as a single-page document.
func (v *Viewer) CreateDocument(_ context.Context, blob []byte, opts webview.DocumentOptions) (webview.Document, error) {
	if len(opts.PageSizes) == 0 || !opts.PageSizes[0].Valid() {
		return nil, errors.New("a positive page size is required")
	}
	mt := mimetype.Detect(blob)
	if !mimetype.EqualsAny(mt.String(), supportedImages...) {
		return nil, fmt.Errorf("%w: detected %s", ErrUnsupportedBlob, mt.String())
	}
	if ext := strings.TrimPrefix(mt.Extension(), "."); opts.Extension != "" && ext != opts.Extension {
		v.logger.Debug("blob type differs from requested extension",
			zap.String("requested", opts.Extension),
			zap.String("detected", mt.String()),
		)
	}
	return &document{
		viewer: v,
		image:  blob,
		mime:   mt.String(),
		size:   opts.PageSizes[0],
	}, nil
}

// AnnotationManager exposes the annotation layer.
func (v *Viewer) AnnotationManager() webview.AnnotationManager {
	return annotations{v}
}

// SetToolbarGroup switches the active tool group.
func (v *Viewer) SetToolbarGroup(_ context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("toolbar group is required")
	}
	v.mu.Lock()
	v.group = name
	v.mu.Unlock()
	v.logger.Debug("toolbar group changed", zap.String("group", name))
	return nil
}

// ToolbarGroup returns the active tool group.
func (v *Viewer) ToolbarGroup() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.group
}

// ImportAnnotations replaces the annotation layer with xfdfDoc.
func (v *Viewer) ImportAnnotations(xfdfDoc string) error {
	doc, err := xfdf.Parse(xfdfDoc)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.group == webview.ToolbarGroupView {
		return ErrReadOnly
	}
	v.xfdf = xfdfDoc
	v.logger.Debug("annotations imported",
		zap.Int("annotations", len(doc.Annotations)),
		zap.Int("skipped", doc.Skipped),
	)
	return nil
}

// ClearAnnotations drops the annotation layer.
func (v *Viewer) ClearAnnotations() {
	v.mu.Lock()
	v.xfdf = ""
	v.mu.Unlock()
}

type annotations struct{ v *Viewer }

func (a annotations) ExportAnnotations(context.Context) (string, error) {
	a.v.mu.RLock()
	defer a.v.mu.RUnlock()
	if a.v.xfdf == "" {
		return xfdf.Empty, nil
	}
	return a.v.xfdf, nil
}

func (v *Viewer) acquire(ctx context.Context) error {
	if v.limiter == nil {
		return nil
	}
	select {
	case v.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (v *Viewer) release() {
	if v.limiter == nil {
		return
	}
	select {
	case <-v.limiter:
	default:
	}
}
