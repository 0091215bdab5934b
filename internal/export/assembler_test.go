package export

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/backend"
	"github.com/JakeFAU/webannotate/internal/viewer/stub"
	"github.com/JakeFAU/webannotate/internal/webview"
)

type stubBackend struct {
	resp  backend.Response
	err   error
	calls int
}

func (s *stubBackend) Download(context.Context, string) (backend.Response, error) {
	s.calls++
	return s.resp, s.err
}

var session = webview.ResolvedSession{
	ValidURL:       "https://example.com/a",
	EmbedPath:      "/a",
	ViewportWidth:  1440,
	ViewportHeight: 900,
}

func okBackend(body string) *stubBackend {
	return &stubBackend{resp: backend.Response{StatusCode: 200, Body: []byte(body)}}
}

func TestExportMergesRenderAndAnnotations(t *testing.T) {
	t.Parallel()

	v := stub.New()
	require.NoError(t, v.ImportAnnotations("<xfdf/>"))
	b := okBackend(`{"buffer":{"data":[137,80,78,71]},"pageDimensions":{"width":612,"height":792}}`)

	doc, err := New(b, v, zap.NewNop()).Export(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, append([]byte{137, 80, 78, 71}, "<xfdf/>"...), doc.Data)
	require.Equal(t, webview.Dimensions{Width: 612, Height: 792}, doc.Dimensions)
	require.Equal(t, session.ValidURL, doc.SourceURL)

	require.Equal(t, []string{
		stub.CallImportAnnotations,
		stub.CallCreateDocument,
		stub.CallExportAnnotations,
		stub.CallFileData,
	}, v.Calls())
	require.Equal(t, []webview.DocumentOptions{{
		Extension: "png",
		PageSizes: []webview.Dimensions{{Width: 612, Height: 792}},
	}}, v.Options())
}

func TestExportFallsBackToViewport(t *testing.T) {
	t.Parallel()

	v := stub.New()
	doc, err := New(okBackend(`{"buffer":{"data":[1]},"pageDimensions":{"width":0}}`), v, nil).
		Export(context.Background(), session)
	require.NoError(t, err)
	require.Equal(t, session.Viewport(), doc.Dimensions)
}

func TestExportPreconditions(t *testing.T) {
	t.Parallel()

	b := okBackend(`{}`)
	_, err := New(b, stub.New(), nil).Export(context.Background(), webview.ResolvedSession{})
	require.Equal(t, webview.KindPrecondition, webview.KindOf(err))
	require.Equal(t, webview.MsgInvalidURL, webview.UserMessage(err))

	_, err = New(b, nil, nil).Export(context.Background(), session)
	require.Equal(t, webview.KindPrecondition, webview.KindOf(err))
	require.Equal(t, webview.MsgViewerNotReady, webview.UserMessage(err))

	require.Zero(t, b.calls)
}

func TestExportBackendFailures(t *testing.T) {
	t.Parallel()

	_, err := New(&stubBackend{err: errors.New("dial tcp: refused")}, stub.New(), nil).Export(context.Background(), session)
	require.Equal(t, webview.KindConnectivity, webview.KindOf(err))
	require.Equal(t, webview.MsgDownloadUnreachable, webview.UserMessage(err))

	v := stub.New()
	_, err = New(&stubBackend{resp: backend.Response{StatusCode: 500}}, v, nil).Export(context.Background(), session)
	require.Equal(t, webview.KindRenderFailed, webview.KindOf(err))
	require.Equal(t, webview.MsgRenderFailed, webview.UserMessage(err))
	require.Empty(t, v.Calls())
}

func TestExportMalformedRender(t *testing.T) {
	t.Parallel()

	bodies := map[string]string{
		"not json":     `<html>`,
		"no buffer":    `{"pageDimensions":{"width":1,"height":1}}`,
		"empty buffer": `{"buffer":{"data":[]}}`,
		"out of range": `{"buffer":{"data":[1,256]}}`,
		"negative":     `{"buffer":{"data":[-1]}}`,
		"fractional":   `{"buffer":{"data":[1.5]}}`,
		"string":       `{"buffer":{"data":["a"]}}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			v := stub.New()
			_, err := New(okBackend(body), v, nil).Export(context.Background(), session)
			require.Equal(t, webview.KindAssemblyFailed, webview.KindOf(err))
			require.Equal(t, webview.MsgAssemblyFailed, webview.UserMessage(err))
			require.Empty(t, v.Calls())
		})
	}
}

func TestExportViewerFailures(t *testing.T) {
	t.Parallel()

	for _, call := range []string{stub.CallCreateDocument, stub.CallExportAnnotations, stub.CallFileData} {
		t.Run(call, func(t *testing.T) {
			t.Parallel()

			v := stub.New()
			v.Errors[call] = errors.New("viewer crashed")
			_, err := New(okBackend(`{"buffer":{"data":[1,2]}}`), v, nil).Export(context.Background(), session)
			require.Equal(t, webview.KindAssemblyFailed, webview.KindOf(err))
			require.ErrorContains(t, err, "viewer crashed")
		})
	}
}
