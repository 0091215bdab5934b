// Package audit fans export records out to a store and a publisher.
package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// Recorder persists and announces delivered exports. Either side may be nil.
type Recorder struct {
	store     webview.ExportStore
	publisher webview.Publisher
	topic     string
	logger    *zap.Logger
}

// New builds a Recorder. topic is ignored when publisher is nil.
func New(store webview.ExportStore, publisher webview.Publisher, topic string, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, publisher: publisher, topic: topic, logger: logger}
}

// Record stores rec and then publishes it. A failing store does not stop the
// publish; both errors are returned joined.
func (r *Recorder) Record(ctx context.Context, rec webview.ExportRecord) error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.store != nil {
		if err := r.store.StoreExport(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("store export: %w", err))
		}
	}
	if r.publisher != nil && r.topic != "" {
		id, err := r.publisher.Publish(ctx, r.topic, rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish export: %w", err))
		} else {
			r.logger.Debug("export published", zap.String("topic", r.topic), zap.String("message_id", id))
		}
	}
	r.logger.Info("export recorded",
		zap.String("id", rec.ID),
		zap.String("source_url", rec.SourceURL.String()),
		zap.Int("bytes", rec.SizeBytes),
		zap.String("saved_to", rec.SavedTo),
	)
	return errors.Join(errs...)
}
