package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memstore "github.com/JakeFAU/webannotate/internal/storage/memory"
	"github.com/JakeFAU/webannotate/internal/webview"
)

type stubSink struct {
	mu      sync.Mutex
	batches [][]webview.ExportRecord
	closed  bool
	err     error
}

func (s *stubSink) Consume(_ context.Context, batch []webview.ExportRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]webview.ExportRecord(nil), batch...))
	return s.err
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Batches() [][]webview.ExportRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]webview.ExportRecord(nil), s.batches...)
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func record(n int) webview.ExportRecord {
	return webview.ExportRecord{ID: fmt.Sprintf("rec-%d", n), SizeBytes: n}
}

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(HubConfig{BufferSize: 8, MaxBatch: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.Record(context.Background(), record(1)))
	require.NoError(t, hub.Record(context.Background(), record(2)))
	require.Eventually(t, func() bool {
		b := sink.Batches()
		return len(b) == 1 && len(b[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(HubConfig{BufferSize: 4, MaxBatch: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	require.NoError(t, hub.Record(context.Background(), record(1)))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := &stubSink{}
	hub := NewHub(HubConfig{BufferSize: 16, MaxBatch: 100, MaxBatchWait: time.Minute}, sink)
	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Record(context.Background(), record(i)))
	}

	require.NoError(t, hub.Close(context.Background()))
	var total int
	for _, b := range sink.Batches() {
		total += len(b)
	}
	require.Equal(t, 5, total)
	require.True(t, sink.Closed())
	require.ErrorIs(t, hub.Record(context.Background(), record(6)), ErrHubClosed)
	require.NoError(t, hub.Close(context.Background()))
}

func TestHubDropsWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		records: make(chan webview.ExportRecord),
		logger:  zap.NewNop(),
	}
	start := time.Now()
	require.ErrorIs(t, hub.Record(context.Background(), record(1)), ErrDropped)
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestHubSinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	bad := &stubSink{err: errors.New("boom")}
	good := &stubSink{}
	hub := NewHub(HubConfig{MaxBatch: 1}, bad, good)
	require.NoError(t, hub.Record(context.Background(), record(1)))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, bad.Batches(), 1)
	require.Len(t, good.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	require.NoError(t, hub.Record(context.Background(), record(1)))
	require.NoError(t, hub.Close(context.Background()))
}

func TestRecorderSinkStoresAndPublishesBatch(t *testing.T) {
	t.Parallel()

	store := memstore.NewExportStore()
	pub := &recordingPublisher{}
	hub := NewHub(HubConfig{}, NewRecorderSink(New(store, pub, "exports", nil)), NewLogSink(nil))

	require.NoError(t, hub.Record(context.Background(), record(1)))
	require.NoError(t, hub.Record(context.Background(), record(2)))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, store.Exports(), 2)
	require.Len(t, pub.Messages(), 2)
}

func TestRecorderSinkStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	store := memstore.NewExportStore()
	sink := NewRecorderSink(New(store, nil, "", nil))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Consume(ctx, []webview.ExportRecord{record(1), record(2)})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, store.Exports())
}
