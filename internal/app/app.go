// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/api"
	"github.com/JakeFAU/webannotate/internal/audit"
	"github.com/JakeFAU/webannotate/internal/backend"
	"github.com/JakeFAU/webannotate/internal/clock/system"
	"github.com/JakeFAU/webannotate/internal/config"
	"github.com/JakeFAU/webannotate/internal/delivery"
	"github.com/JakeFAU/webannotate/internal/export"
	"github.com/JakeFAU/webannotate/internal/id/uuid"
	"github.com/JakeFAU/webannotate/internal/logging"
	"github.com/JakeFAU/webannotate/internal/metrics"
	"github.com/JakeFAU/webannotate/internal/proxy"
	pubsubpublisher "github.com/JakeFAU/webannotate/internal/publisher/pubsub"
	"github.com/JakeFAU/webannotate/internal/session"
	gcsstorage "github.com/JakeFAU/webannotate/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webannotate/internal/storage/local"
	memorystorage "github.com/JakeFAU/webannotate/internal/storage/memory"
	"github.com/JakeFAU/webannotate/internal/storage/postgres"
	"github.com/JakeFAU/webannotate/internal/viewer/chromium"
	"github.com/JakeFAU/webannotate/internal/webview"
)

const auditDrainTimeout = 15 * time.Second

// ErrViewerDisabled is reported by Ready when no viewer engine is configured.
var ErrViewerDisabled = errors.New("viewer engine is disabled")

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and closed by the command that built it.
type App struct {
	cfg         config.Config
	logger      *zap.Logger
	backend     *backend.Client
	viewer      *chromium.Viewer
	deliveries  *delivery.Manager
	coordinator *session.Coordinator
	closers     []func()
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetConfig returns the configuration the App was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetCoordinator returns the embedding coordinator.
func (a *App) GetCoordinator() *session.Coordinator {
	return a.coordinator
}

// GetDeliveries returns the transient handle manager.
func (a *App) GetDeliveries() *delivery.Manager {
	return a.deliveries
}

// GetBackend returns the proxy server client.
func (a *App) GetBackend() *backend.Client {
	return a.backend
}

// GetAnnotations returns the viewer's annotation importer, or nil when no
// viewer is configured.
func (a *App) GetAnnotations() webview.AnnotationImporter {
	if a.viewer == nil {
		return nil
	}
	return a.viewer
}

// Ready reports whether exports can be served.
func (a *App) Ready(context.Context) error {
	if a.viewer == nil {
		return ErrViewerDisabled
	}
	return nil
}

// APIDeps assembles the HTTP server collaborators.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Coordinator:     a.coordinator,
		Annotations:     a.GetAnnotations(),
		Downloads:       a.deliveries,
		Embedder:        a.backend,
		DefaultFilename: a.cfg.Export.DefaultFilename,
		Ready:           a.Ready,
		Logger:          a.logger,
	}
}

// NewApp creates and initializes a new App from cfg. It fails fast if any
// configured service cannot be initialized and closes whatever it already
// opened.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	l := a.logger
	l.Info("Initializing application services...")

	client, err := backend.New(backend.Config{
		BaseURL:        cfg.Backend.BaseURL,
		ProxyPath:      cfg.Backend.ProxyPath,
		DownloadPath:   cfg.Backend.DownloadPath,
		Headers:        cfg.Backend.Headers,
		UserAgent:      cfg.Backend.UserAgent,
		Timeout:        cfg.BackendTimeout(),
		MaxRetries:     cfg.Backend.MaxRetries,
		BackoffInitial: time.Duration(cfg.Backend.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.Backend.BackoffMaxMs) * time.Millisecond,
		RateLimitRPS:   cfg.Backend.RateLimitRPS,
		RateLimitBurst: cfg.Backend.RateLimitBurst,
	}, l.Named("backend"))
	if err != nil {
		return fmt.Errorf("init backend client: %w", err)
	}
	a.backend = client

	var viewer webview.Viewer
	switch cfg.Viewer.Engine {
	case config.ViewerChromium:
		v, err := chromium.New(chromium.Config{
			ExecPath:      cfg.Viewer.ExecPath,
			MaxParallel:   cfg.Viewer.MaxParallel,
			RenderTimeout: time.Duration(cfg.Viewer.RenderTimeoutSeconds) * time.Second,
			NoSandbox:     cfg.Viewer.NoSandbox,
		}, l.Named("viewer"))
		if err != nil {
			return fmt.Errorf("init viewer: %w", err)
		}
		a.viewer = v
		a.closers = append(a.closers, v.Close)
		viewer = v
	case config.ViewerNone:
		l.Info("Viewer disabled. Exports will be refused.")
	}

	sink, err := a.newSink(ctx)
	if err != nil {
		return err
	}
	opts := []delivery.Option{delivery.WithGauge(metrics.NewHandleGauge())}
	if sink != nil {
		opts = append(opts, delivery.WithSink(sink))
	}
	a.deliveries = delivery.New(
		delivery.Config{ReleaseDelay: cfg.ReleaseDelay(), TombstoneTTL: cfg.TombstoneTTL()},
		system.New(),
		uuid.New(),
		l.Named("delivery"),
		opts...,
	)
	a.closers = append(a.closers, a.deliveries.Close)

	recorder, err := a.newRecorder(ctx)
	if err != nil {
		return err
	}

	coordOpts := []session.Option{
		session.WithRecorder(recorder),
		session.WithObserver(metrics.NewObserver()),
	}
	// A nil *chromium.Viewer must not become a non-nil interface.
	if viewer != nil {
		coordOpts = append(coordOpts, session.WithViewer(viewer))
	}
	a.coordinator = session.New(
		proxy.New(client, cfg.DefaultViewport(), l.Named("proxy")),
		export.New(client, viewer, l.Named("export")),
		a.deliveries,
		l.Named("session"),
		coordOpts...,
	)

	l.Info("Application services initialized successfully.",
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("viewer", cfg.Viewer.Engine),
		zap.String("sink", cfg.Delivery.Sink),
	)
	return nil
}

func (a *App) newSink(ctx context.Context) (delivery.Sink, error) {
	cfg := a.cfg.Delivery
	switch cfg.Sink {
	case config.SinkMemory:
		a.logger.Info("Saving downloads in memory")
		return memorystorage.NewBlobStore(), nil
	case config.SinkLocal:
		a.logger.Info("Saving downloads to disk", zap.String("dir", cfg.Dir))
		store, err := localstorage.New(localstorage.Config{Dir: cfg.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local sink: %w", err)
		}
		return store, nil
	case config.SinkGCS:
		a.logger.Info("Saving downloads to GCS", zap.String("bucket", cfg.GCSBucket))
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Error closing GCS client", zap.Error(err))
			}
		})
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs sink: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) newRecorder(ctx context.Context) (*audit.Hub, error) {
	cfg := a.cfg
	var store webview.ExportStore
	if cfg.DB.DSN != "" {
		a.logger.Info("Connecting to PostgreSQL...")
		pg, err := postgres.NewExportStore(ctx, postgres.ExportStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init export store: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		store = pg
	} else {
		a.logger.Info("Using in-memory export store. Records are lost on exit.")
		store = memorystorage.NewExportStore()
	}

	var publisher webview.Publisher
	if cfg.PubSub.TopicName != "" {
		a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", cfg.PubSub.TopicName))
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		p, err := pubsubpublisher.New(client, map[string]string{"source": "webannotate"})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.closers = append(a.closers, func() {
			p.Stop()
			if err := client.Close(); err != nil {
				a.logger.Warn("Error closing Pub/Sub client", zap.Error(err))
			}
		})
		publisher = p
	}

	logger := a.logger.Named("audit")
	recorder := audit.New(store, publisher, cfg.PubSub.TopicName, logger)
	hub := audit.NewHub(audit.HubConfig{
		BufferSize:   cfg.Audit.BufferSize,
		MaxBatch:     cfg.Audit.MaxBatch,
		MaxBatchWait: time.Duration(cfg.Audit.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:  time.Duration(cfg.Audit.SinkTimeoutSeconds) * time.Second,
		Logger:       logger,
	}, audit.NewRecorderSink(recorder), audit.NewLogSink(logger))
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), auditDrainTimeout)
		defer cancel()
		if err := hub.Close(ctx); err != nil {
			a.logger.Warn("Error draining audit records", zap.Error(err))
		}
	})
	return hub, nil
}

// Close gracefully shuts down all services in reverse order of creation.
// It is called by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	if a == nil {
		return
	}
	a.logger.Info("Shutting down application services...")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	_ = a.logger.Sync()
}
