package audit

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// RecorderSink feeds hub batches through a Recorder one record at a time.
type RecorderSink struct {
	recorder *Recorder
}

// NewRecorderSink wraps r.
func NewRecorderSink(r *Recorder) *RecorderSink {
	return &RecorderSink{recorder: r}
}

// Consume records every entry and joins the failures.
func (s *RecorderSink) Consume(ctx context.Context, batch []webview.ExportRecord) error {
	var errs []error
	for _, rec := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.recorder.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink; it performs no action.
func (s *RecorderSink) Close(context.Context) error {
	return nil
}

// LogSink writes one structured line per batch. Useful when no store or
// publisher is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the Sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch size and the IDs it carried.
func (s *LogSink) Consume(_ context.Context, batch []webview.ExportRecord) error {
	ids := make([]string, 0, len(batch))
	var bytes int
	for _, rec := range batch {
		ids = append(ids, rec.ID)
		bytes += rec.SizeBytes
	}
	s.logger.Info("export batch flushed",
		zap.Int("records", len(batch)),
		zap.Int("bytes", bytes),
		zap.Strings("ids", ids),
	)
	return nil
}

// Close implements Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
