// Package backend talks to the proxy/rendering server over its two JSON
// endpoints. Interpreting the responses is left to the proxy and export
// packages; this client only moves bytes and carries session credentials.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/webannotate/internal/policy/ratelimit"
)

// Default endpoint paths exposed by the proxy server.
const (
	DefaultProxyPath    = "/pdftron-proxy"
	DefaultDownloadPath = "/pdftron-download"
)

// Config controls the backend client.
type Config struct {
	BaseURL        string
	ProxyPath      string
	DownloadPath   string
	Headers        map[string]string
	UserAgent      string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// RateLimitRPS caps requests per second for each proxied host. Zero
	// disables the limit.
	RateLimitRPS   float64
	RateLimitBurst int
}

// Response is the raw answer of a backend endpoint.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ClientError reports whether the status code is 4xx.
func (r Response) ClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// Client issues requests against the proxy server.
type Client struct {
	rest    *resty.Client
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *zap.Logger
}

// New builds a Client with a cookie jar so credentials set by the server are
// sent back on later calls.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("backend base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProxyPath == "" {
		cfg.ProxyPath = DefaultProxyPath
	}
	if cfg.DownloadPath == "" {
		cfg.DownloadPath = DefaultDownloadPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetCookieJar(jar).
		SetLogger(&restyLogger{sugar: logger.Sugar()}).
		SetRetryCount(cfg.MaxRetries).
		// Only transport failures are retried; an answer from the server,
		// whatever its status, is final.
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		})
	if cfg.BackoffInitial > 0 {
		rest.SetRetryWaitTime(cfg.BackoffInitial)
	}
	if cfg.BackoffMax > 0 {
		rest.SetRetryMaxWaitTime(cfg.BackoffMax)
	}
	if cfg.UserAgent != "" {
		rest.SetHeader("User-Agent", cfg.UserAgent)
	}
	for k, v := range cfg.Headers {
		rest.SetHeader(k, v)
	}

	limiter := ratelimit.New(ratelimit.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst})
	return &Client{rest: rest, limiter: limiter, cfg: cfg, logger: logger}, nil
}

// Proxy asks the server for a proxied, rewritten version of target.
func (c *Client) Proxy(ctx context.Context, target string, headers http.Header) (Response, error) {
	return c.get(ctx, c.cfg.ProxyPath, target, headers)
}

// Download asks the server for a rendered representation of target.
func (c *Client) Download(ctx context.Context, target string) (Response, error) {
	return c.get(ctx, c.cfg.DownloadPath, target, nil)
}

// EmbedURL returns the absolute address under which an embed path is served.
func (c *Client) EmbedURL(embedPath string) string {
	if !strings.HasPrefix(embedPath, "/") {
		embedPath = "/" + embedPath
	}
	return c.cfg.BaseURL + embedPath
}

func (c *Client) get(ctx context.Context, path, target string, headers http.Header) (Response, error) {
	if err := c.limiter.Wait(ctx, target); err != nil {
		return Response{}, err
	}
	req := c.rest.R().
		SetContext(ctx).
		SetQueryParam("url", target)
	if len(headers) > 0 {
		req.SetHeaderMultiValues(headers)
	}
	resp, err := req.Get(path)
	if err != nil {
		return Response{}, fmt.Errorf("GET %s: %w", path, err)
	}
	c.logger.Debug("backend response",
		zap.String("path", path),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
	)
	return Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

type restyLogger struct {
	sugar *zap.SugaredLogger
}

func (l *restyLogger) Errorf(format string, v ...any) {
	l.sugar.Errorf(format, v...)
}

func (l *restyLogger) Warnf(format string, v ...any) {
	l.sugar.Warnf(format, v...)
}

func (l *restyLogger) Debugf(format string, v ...any) {
	l.sugar.Debugf(format, v...)
}
