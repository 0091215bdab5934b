package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/clock/fake"
	"github.com/JakeFAU/webannotate/internal/storage/memory"
	"github.com/JakeFAU/webannotate/internal/webview"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("id-%d", s.n), nil
}

type countingGauge struct{ value int }

func (g *countingGauge) Inc() { g.value++ }
func (g *countingGauge) Dec() { g.value-- }

type failingSink struct{}

func (failingSink) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

var start = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func doc(data string) webview.AssembledDocument {
	return webview.AssembledDocument{Data: []byte(data), SourceURL: "https://example.com"}
}

func TestFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":                "annotated.pdf",
		"   ":             "annotated.pdf",
		"/":               "annotated.pdf",
		"report":          "report.pdf",
		"report.pdf":      "report.pdf",
		"REPORT.PDF":      "REPORT.PDF",
		"notes.txt":       "notes.txt.pdf",
		"../../etc/x.pdf": "x.pdf",
		"a/b/c.pdf":       "c.pdf",
	}
	for in, want := range cases {
		require.Equal(t, want, Filename(in), in)
	}
}

func TestDeliverAndReleaseAfterDelay(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	gauge := &countingGauge{}
	m := New(Config{}, clk, &seqIDs{}, zap.NewNop(), WithGauge(gauge))

	h, err := m.Deliver(context.Background(), doc("%PDF-1"), "")
	require.NoError(t, err)
	require.Equal(t, "blob:webannotate/id-1", h.URI)
	require.Equal(t, DefaultFilename, h.Filename)
	require.Equal(t, ContentTypePDF, h.ContentType)
	require.Equal(t, 6, h.Size)
	require.Equal(t, start.Add(DefaultReleaseDelay), h.ExpiresAt)
	require.Equal(t, 1, gauge.value)

	got, r, err := m.Open(h.URI)
	require.NoError(t, err)
	require.Equal(t, h, got)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1", string(body))

	clk.Advance(DefaultReleaseDelay - time.Millisecond)
	_, _, err = m.Open(h.ID)
	require.NoError(t, err)

	clk.Advance(time.Millisecond)
	_, _, err = m.Open(h.ID)
	require.ErrorIs(t, err, ErrHandleReleased)
	require.Zero(t, m.Active())
	require.Zero(t, gauge.value)

	_, _, err = m.Open("never-issued")
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestDeliverSavesThroughSink(t *testing.T) {
	t.Parallel()

	sink := memory.NewBlobStore()
	m := New(Config{ReleaseDelay: time.Second}, fake.New(start), &seqIDs{}, nil, WithSink(sink))

	h, err := m.Deliver(context.Background(), doc("pdf-bytes"), "page")
	require.NoError(t, err)
	require.Equal(t, "memory://page.pdf", h.SavedTo)

	saved, ok := sink.Object("page.pdf")
	require.True(t, ok)
	require.Equal(t, "pdf-bytes", string(saved))

	opened, _, err := m.Open(h.ID)
	require.NoError(t, err)
	require.Equal(t, "memory://page.pdf", opened.SavedTo)
}

func TestDeliverReleasesOnSinkFailure(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	m := New(Config{}, clk, &seqIDs{}, nil, WithSink(failingSink{}))

	_, err := m.Deliver(context.Background(), doc("x"), "x.pdf")
	require.ErrorContains(t, err, "bucket unavailable")
	require.Zero(t, m.Active())
	require.Zero(t, clk.Pending())
}

func TestReleaseEarlyStopsTimer(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	m := New(Config{}, clk, &seqIDs{}, nil)

	h, err := m.Deliver(context.Background(), doc("x"), "")
	require.NoError(t, err)
	require.Equal(t, 1, clk.Pending())

	require.True(t, m.Release(h.URI))
	require.False(t, m.Release(h.URI))
	require.Zero(t, clk.Pending())
}

func TestTombstonesExpire(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	m := New(Config{ReleaseDelay: time.Second, TombstoneTTL: time.Minute}, clk, &seqIDs{}, nil)
	ctx := context.Background()

	first, err := m.Deliver(ctx, doc("a"), "")
	require.NoError(t, err)
	require.True(t, m.Release(first.ID))
	_, _, err = m.Open(first.ID)
	require.ErrorIs(t, err, ErrHandleReleased)

	clk.Advance(time.Minute)
	_, _, err = m.Open(first.ID)
	require.ErrorIs(t, err, ErrUnknownHandle)

	for i := 0; i < 50; i++ {
		h, err := m.Deliver(ctx, doc("b"), "")
		require.NoError(t, err)
		require.True(t, m.Release(h.ID))
		clk.Advance(time.Minute)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	require.LessOrEqual(t, len(m.released), 1)
}

func TestHandlesAreIndependent(t *testing.T) {
	t.Parallel()

	clk := fake.New(start)
	m := New(Config{}, clk, &seqIDs{}, nil)

	first, err := m.Deliver(context.Background(), doc("one"), "")
	require.NoError(t, err)
	clk.Advance(3 * time.Second)
	second, err := m.Deliver(context.Background(), doc("two"), "")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	clk.Advance(2 * time.Second)
	_, _, err = m.Open(first.ID)
	require.ErrorIs(t, err, ErrHandleReleased)
	_, r, err := m.Open(second.ID)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	require.Equal(t, "two", buf.String())
}

func TestCloseReleasesEverything(t *testing.T) {
	t.Parallel()

	m := New(Config{}, fake.New(start), &seqIDs{}, nil)
	for i := 0; i < 3; i++ {
		_, err := m.Deliver(context.Background(), doc("x"), "")
		require.NoError(t, err)
	}
	require.Equal(t, 3, m.Active())

	m.Close()
	require.Zero(t, m.Active())
	_, err := m.Deliver(context.Background(), doc("x"), "")
	require.ErrorIs(t, err, ErrClosed)
}
