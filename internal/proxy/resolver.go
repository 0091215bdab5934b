// Package proxy resolves user URLs through the backend proxy and maps the
// answer onto an embeddable session.
package proxy

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/backend"
	"github.com/JakeFAU/webannotate/internal/webview"
)

// Backend is the part of the backend client the resolver needs.
type Backend interface {
	Proxy(ctx context.Context, target string, headers http.Header) (backend.Response, error)
}

// Resolver implements webview.Resolver.
type Resolver struct {
	backend  Backend
	viewport webview.Dimensions
	logger   *zap.Logger
}

// New builds a Resolver. viewport seeds the session dimensions until the
// embedded page reports its real size.
func New(b Backend, viewport webview.Dimensions, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{backend: b, viewport: viewport, logger: logger}
}

// Resolve sends target to the proxy endpoint. A successful status always
// yields a session; when the body is unusable the submitted URL is kept and
// the Resolution is marked Degraded.
func (r *Resolver) Resolve(
	ctx context.Context,
	target webview.NormalizedURL,
	extraHeaders http.Header,
) (webview.Resolution, error) {
	resp, err := r.backend.Proxy(ctx, target.String(), extraHeaders)
	if err != nil {
		return webview.Resolution{}, webview.NewError(webview.KindConnectivity, webview.MsgProxyUnreachable, err)
	}

	switch {
	case resp.ClientError():
		msg := serverMessage(resp.Body, webview.MsgProxyRejected)
		return webview.Resolution{}, webview.NewError(
			webview.KindProxyRejected, msg, fmt.Errorf("proxy returned status %d", resp.StatusCode),
		)
	case !resp.Success():
		msg := serverMessage(resp.Body, webview.MsgProxyFailed)
		return webview.Resolution{}, webview.NewError(
			webview.KindProxyRejected, msg, fmt.Errorf("proxy returned status %d", resp.StatusCode),
		)
	}

	confirmed, reason := confirmedURL(resp.Body)
	degraded := reason != ""
	if degraded {
		confirmed = target
		r.logger.Warn("proxy response unusable, keeping submitted url",
			zap.String("url", target.String()),
			zap.String("reason", reason),
		)
	}

	embedPath, err := EmbedPath(confirmed.String())
	if err != nil {
		return webview.Resolution{}, webview.NewError(webview.KindValidation, webview.MsgInvalidURL, err)
	}

	return webview.Resolution{
		Session: webview.ResolvedSession{
			ValidURL:       confirmed,
			EmbedPath:      embedPath,
			ViewportWidth:  r.viewport.Width,
			ViewportHeight: r.viewport.Height,
		},
		Degraded: degraded,
		Reason:   reason,
	}, nil
}

// confirmedURL extracts validUrl from a proxy body. A non-empty reason means
// the value cannot be used.
func confirmedURL(body []byte) (webview.NormalizedURL, string) {
	if !gjson.ValidBytes(body) {
		return "", "response body is not valid JSON"
	}
	v := gjson.GetBytes(body, "validUrl")
	switch {
	case !v.Exists():
		return "", "validUrl missing from response"
	case v.Type != gjson.String:
		return "", "validUrl is not a string"
	case strings.TrimSpace(v.Str) == "":
		return "", "validUrl is empty"
	}
	if _, err := absoluteHTTP(v.Str); err != nil {
		return "", err.Error()
	}
	return webview.NormalizedURL(v.Str), ""
}

// EmbedPath strips the origin from an absolute URL. When the origin is not a
// literal prefix of the full address the path component is used instead.
func EmbedPath(raw string) (string, error) {
	u, err := absoluteHTTP(raw)
	if err != nil {
		return "", err
	}
	if u.Path == "" {
		u.Path = "/"
	}
	origin := u.Scheme + "://" + u.Host
	href := u.String()
	if rest, ok := strings.CutPrefix(href, origin); ok && rest != "" {
		return rest, nil
	}
	if p := u.EscapedPath(); p != "" {
		return p, nil
	}
	return "/", nil
}

func absoluteHTTP(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url %q is not an absolute http(s) url", raw)
	}
	return u, nil
}

func serverMessage(body []byte, fallback string) string {
	if !gjson.ValidBytes(body) {
		return fallback
	}
	msg := gjson.GetBytes(body, "errorMessage")
	if msg.Type == gjson.String && strings.TrimSpace(msg.Str) != "" {
		return msg.Str
	}
	return fallback
}
