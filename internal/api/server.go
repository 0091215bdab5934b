package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/delivery"
	"github.com/JakeFAU/webannotate/internal/metrics"
	"github.com/JakeFAU/webannotate/internal/session"
	"github.com/JakeFAU/webannotate/internal/webview"
)

const (
	maxAnnotationBytes = 10 << 20
	maxJSONBytes       = 1 << 20
	requestTimeout     = 2 * time.Minute
)

// Coordinator is the session surface driven by the handlers.
type Coordinator interface {
	Submit(ctx context.Context, raw string, headers http.Header) (session.Snapshot, error)
	Snapshot() session.Snapshot
	Reset(ctx context.Context) session.Snapshot
	Download(ctx context.Context, filename string) (delivery.Handle, session.Snapshot, error)
	EnterBrowseMode(ctx context.Context) error
	EnterAnnotateMode(ctx context.Context) error
}

// Downloads dereferences transient handles.
type Downloads interface {
	Open(ref string) (delivery.Handle, *bytes.Reader, error)
}

// Embedder turns an embed path into an absolute address on the backend.
type Embedder interface {
	EmbedURL(embedPath string) string
}

// Deps are the collaborators of the Server. Annotations and Ready may be nil.
type Deps struct {
	Coordinator     Coordinator
	Annotations     webview.AnnotationImporter
	Downloads       Downloads
	Embedder        Embedder
	DefaultFilename string
	Ready           func(ctx context.Context) error
	Logger          *zap.Logger
}

// Server wires HTTP handlers to the coordinator and delivery manager.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.submit)
			r.Get("/", s.snapshot)
			r.Delete("/", s.reset)
			r.Post("/browse", s.browse)
			r.Post("/annotate", s.annotate)
			r.Put("/annotations", s.importAnnotations)
			r.Post("/export", s.export)
		})
		r.Get("/embed", s.embed)
		r.Get("/downloads/{handle}", s.download)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type exportRequest struct {
	Filename string `json:"filename"`
}

type exportResponse struct {
	Handle   delivery.Handle `json:"handle"`
	Download string          `json:"download"`
	State    stateView       `json:"state"`
}

type embedResponse struct {
	EmbedURL  string             `json:"embedUrl"`
	EmbedPath string             `json:"embedPath"`
	ValidURL  string             `json:"validUrl"`
	Viewport  webview.Dimensions `json:"viewport"`
}

// stateView is a Snapshot plus the signals a UI binds to.
type stateView struct {
	Phase            session.Phase            `json:"phase"`
	Session          *webview.ResolvedSession `json:"session,omitempty"`
	Generation       uint64                   `json:"generation"`
	ShowSpinner      bool                     `json:"showSpinner"`
	ControlsDisabled bool                     `json:"controlsDisabled"`
	ErrorMessage     string                   `json:"errorMessage,omitempty"`
}

func viewOf(snap session.Snapshot) stateView {
	return stateView{
		Phase:            snap.Phase,
		Session:          snap.Session,
		Generation:       snap.Generation,
		ShowSpinner:      snap.ShowSpinner(),
		ControlsDisabled: snap.ControlsDisabled(),
		ErrorMessage:     snap.ErrorMessage(),
	}
}

type errorResponse struct {
	Error string     `json:"error"`
	Kind  string     `json:"kind,omitempty"`
	State *stateView `json:"state,omitempty"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	headers := http.Header{}
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	snap, err := s.deps.Coordinator.Submit(r.Context(), req.URL, headers)
	if err != nil {
		s.writeFailure(w, err, snap)
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) snapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, viewOf(s.deps.Coordinator.Snapshot()))
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, viewOf(s.deps.Coordinator.Reset(r.Context())))
}

func (s *Server) browse(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.EnterBrowseMode(r.Context()); err != nil {
		s.logger.Error("enter browse mode", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not switch to browse mode")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) annotate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.EnterAnnotateMode(r.Context()); err != nil {
		s.logger.Error("enter annotate mode", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not switch to annotate mode")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) importAnnotations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Annotations == nil {
		s.writeError(w, http.StatusConflict, webview.MsgViewerNotReady)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAnnotationBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if len(body) > maxAnnotationBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, "annotation layer too large")
		return
	}
	if err := s.deps.Annotations.ImportAnnotations(string(body)); err != nil {
		if errors.Is(err, webview.ErrReadOnly) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	if req.Filename == "" {
		req.Filename = s.deps.DefaultFilename
	}
	handle, snap, err := s.deps.Coordinator.Download(r.Context(), req.Filename)
	if err != nil {
		s.writeFailure(w, err, snap)
		return
	}
	s.writeJSON(w, http.StatusCreated, exportResponse{
		Handle:   handle,
		Download: "/v1/downloads/" + handle.ID,
		State:    viewOf(snap),
	})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "handle")
	h, content, err := s.deps.Downloads.Open(ref)
	switch {
	case errors.Is(err, delivery.ErrHandleReleased):
		s.writeError(w, http.StatusGone, "download handle has been released")
		return
	case err != nil:
		s.writeError(w, http.StatusNotFound, "download handle not found")
		return
	}
	w.Header().Set("Content-Type", h.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": h.Filename}))
	http.ServeContent(w, r, h.Filename, h.CreatedAt, content)
}

func (s *Server) embed(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Coordinator.Snapshot()
	if snap.Session == nil || !snap.Session.Resolvable() {
		s.writeError(w, http.StatusConflict, "no resolved session")
		return
	}
	sess := snap.Session
	resp := embedResponse{
		EmbedPath: sess.EmbedPath,
		ValidURL:  sess.ValidURL.String(),
		Viewport:  sess.Viewport(),
	}
	if s.deps.Embedder != nil {
		resp.EmbedURL = s.deps.Embedder.EmbedURL(sess.EmbedPath)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a coordinator failure onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrStaleCompletion) {
		return http.StatusConflict
	}
	switch webview.KindOf(err) {
	case webview.KindValidation:
		return http.StatusBadRequest
	case webview.KindPrecondition:
		return http.StatusConflict
	case webview.KindProxyRejected:
		return http.StatusUnprocessableEntity
	case webview.KindConnectivity, webview.KindRenderFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error, snap session.Snapshot) {
	status := statusFor(err)
	msg := webview.UserMessage(err)
	if errors.Is(err, session.ErrBusy) || errors.Is(err, session.ErrStaleCompletion) {
		msg = err.Error()
	}
	view := viewOf(snap)
	resp := errorResponse{Error: msg, State: &view}
	if kind := webview.KindOf(err); kind != webview.KindUnknown {
		resp.Kind = kind.String()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.writeJSON(w, status, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
