package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webannotate/internal/app"
	"github.com/JakeFAU/webannotate/internal/config"
	"github.com/JakeFAU/webannotate/internal/session"
	"github.com/JakeFAU/webannotate/internal/webview"
)

func testConfig(baseURL string) config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: 8080, ShutdownTimeoutSeconds: 1},
		Backend:  config.BackendConfig{BaseURL: baseURL, TimeoutSeconds: 5},
		Viewer:   config.ViewerConfig{Engine: config.ViewerNone, DefaultWidth: 1440, DefaultHeight: 900},
		Export:   config.ExportConfig{DefaultFilename: "annotated.pdf"},
		Delivery: config.DeliveryConfig{ReleaseDelayMs: 5000, Sink: config.SinkNone},
		Logging:  config.LoggingConfig{Level: "error"},
	}
}

// useApp swaps the application factory for one built from cfg.
func useApp(t *testing.T, cfg config.Config) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, _ string) (App, error) {
		a, err := app.NewApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoadPrintsSession(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		_, _ = w.Write([]byte(`{"validUrl":"https://example.com/docs?x=1"}`))
	}))
	t.Cleanup(backend.Close)
	useApp(t, testConfig(backend.URL))

	out, err := run(t, "load", "example.com/docs", "--header", "X-Test: yes")
	require.NoError(t, err)

	var got loadOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, session.PhaseReady, got.Phase)
	require.Equal(t, "/docs?x=1", got.Session.EmbedPath)
	require.Equal(t, backend.URL+"/docs?x=1", got.EmbedURL)
}

func TestLoadRejectedURL(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"errorMessage":"blocked host"}`))
	}))
	t.Cleanup(backend.Close)
	useApp(t, testConfig(backend.URL))

	_, err := run(t, "load", "example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "blocked host")
	require.Equal(t, webview.KindProxyRejected, webview.KindOf(err))
}

func TestExportWithoutViewerFails(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"validUrl":"https://example.com/"}`))
	}))
	t.Cleanup(backend.Close)
	useApp(t, testConfig(backend.URL))

	notes := filepath.Join(t.TempDir(), "notes.xfdf")
	require.NoError(t, os.WriteFile(notes, []byte("<xfdf/>"), 0o600))

	_, err := run(t, "export", "example.com", "--annotations", notes)
	require.Error(t, err)
	require.Contains(t, err.Error(), webview.MsgViewerNotReady)
}

func TestLoadRequiresURL(t *testing.T) {
	useApp(t, testConfig("http://localhost:1"))

	_, err := run(t, "load")
	require.Error(t, err)
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"X-A: 1", "X-A:2", "Authorization: Bearer a:b"})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, h.Values("X-A"))
	require.Equal(t, "Bearer a:b", h.Get("Authorization"))

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	require.Nil(t, h)

	_, err = parseHeaders([]string{"novalue"})
	require.Error(t, err)
	_, err = parseHeaders([]string{": empty"})
	require.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	require.Equal(t, "a.pdf", outputPath("", "a.pdf"))
	require.Equal(t, filepath.Join(dir, "a.pdf"), outputPath(dir, "a.pdf"))
	require.Equal(t, filepath.Join(dir, "b.pdf"), outputPath(filepath.Join(dir, "b.pdf"), "a.pdf"))
}
