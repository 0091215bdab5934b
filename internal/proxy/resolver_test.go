package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/backend"
	"github.com/JakeFAU/webannotate/internal/webview"
)

type stubBackend struct {
	resp  backend.Response
	err   error
	calls int
	last  string
}

func (s *stubBackend) Proxy(_ context.Context, target string, _ http.Header) (backend.Response, error) {
	s.calls++
	s.last = target
	return s.resp, s.err
}

var viewport = webview.Dimensions{Width: 1440, Height: 900}

func TestResolveSuccess(t *testing.T) {
	t.Parallel()

	b := &stubBackend{resp: backend.Response{StatusCode: 200, Body: []byte(`{"validUrl":"https://example.com/a/b?c=d"}`)}}
	r := New(b, viewport, zap.NewNop())

	res, err := r.Resolve(context.Background(), "https://example.com/a/b", nil)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, webview.NormalizedURL("https://example.com/a/b?c=d"), res.Session.ValidURL)
	require.Equal(t, "/a/b?c=d", res.Session.EmbedPath)
	require.Equal(t, viewport, res.Session.Viewport())
	require.Equal(t, "https://example.com/a/b", b.last)
}

func TestResolveFallsBackOnUnusableBody(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":       `<html>oops</html>`,
		"missing":        `{}`,
		"not string":     `{"validUrl":42}`,
		"empty":          `{"validUrl":""}`,
		"relative":       `{"validUrl":"/just/a/path"}`,
		"other protocol": `{"validUrl":"ftp://example.com/x"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := &stubBackend{resp: backend.Response{StatusCode: 200, Body: []byte(body)}}
			res, err := New(b, viewport, nil).Resolve(context.Background(), "https://example.com/x", nil)
			require.NoError(t, err)
			require.True(t, res.Degraded)
			require.NotEmpty(t, res.Reason)
			require.Equal(t, webview.NormalizedURL("https://example.com/x"), res.Session.ValidURL)
			require.Equal(t, "/x", res.Session.EmbedPath)
		})
	}
}

func TestResolveClientErrorUsesServerMessage(t *testing.T) {
	t.Parallel()

	b := &stubBackend{resp: backend.Response{StatusCode: 400, Body: []byte(`{"errorMessage":"bad host"}`)}}
	_, err := New(b, viewport, nil).Resolve(context.Background(), "https://bad.example", nil)
	require.Error(t, err)
	require.Equal(t, webview.KindProxyRejected, webview.KindOf(err))
	require.Equal(t, "bad host", webview.UserMessage(err))
}

func TestResolveClientErrorWithoutMessage(t *testing.T) {
	t.Parallel()

	b := &stubBackend{resp: backend.Response{StatusCode: 404, Body: []byte(`nope`)}}
	_, err := New(b, viewport, nil).Resolve(context.Background(), "https://example.com", nil)
	require.Equal(t, webview.KindProxyRejected, webview.KindOf(err))
	require.Equal(t, webview.MsgProxyRejected, webview.UserMessage(err))
}

func TestResolveServerError(t *testing.T) {
	t.Parallel()

	b := &stubBackend{resp: backend.Response{StatusCode: 500, Body: []byte(`{}`)}}
	_, err := New(b, viewport, nil).Resolve(context.Background(), "https://example.com", nil)
	require.Equal(t, webview.KindProxyRejected, webview.KindOf(err))
	require.Equal(t, webview.MsgProxyFailed, webview.UserMessage(err))

	b.resp.Body = []byte(`{"errorMessage":"upstream timed out"}`)
	_, err = New(b, viewport, nil).Resolve(context.Background(), "https://example.com", nil)
	require.Equal(t, "upstream timed out", webview.UserMessage(err))
}

func TestResolveTransportFailure(t *testing.T) {
	t.Parallel()

	b := &stubBackend{err: errors.New("connection refused")}
	_, err := New(b, viewport, nil).Resolve(context.Background(), "https://example.com", nil)
	require.Equal(t, webview.KindConnectivity, webview.KindOf(err))
	require.Equal(t, webview.MsgProxyUnreachable, webview.UserMessage(err))
}

func TestEmbedPath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"https://example.com/a/b", "/a/b"},
		{"https://example.com", "/"},
		{"https://example.com/", "/"},
		{"http://example.com:8080/x?y=1#z", "/x?y=1#z"},
		{"https://user:pw@example.com/private", "/private"},
		{"https://example.com?q=1", "/?q=1"},
		{"https://example.com#top", "/#top"},
		{"https://example.com?q=1#top", "/?q=1#top"},
	}
	for _, tc := range cases {
		got, err := EmbedPath(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}

	_, err := EmbedPath("not a url")
	require.Error(t, err)
}

func TestResolveAgainstBackendServer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, backend.DefaultProxyPath, r.URL.Path)
		if r.URL.Query().Get("url") == "https://bad.example" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"errorMessage":"bad host"}`))
			return
		}
		_, _ = w.Write([]byte(`{"validUrl":"` + r.URL.Query().Get("url") + `"}`))
	}))
	defer srv.Close()

	client, err := backend.New(backend.Config{BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	r := New(client, viewport, zap.NewNop())

	res, err := r.Resolve(context.Background(), "https://example.com/docs/page", nil)
	require.NoError(t, err)
	require.Equal(t, "/docs/page", res.Session.EmbedPath)

	_, err = r.Resolve(context.Background(), "https://bad.example", nil)
	require.Equal(t, "bad host", webview.UserMessage(err))
}
