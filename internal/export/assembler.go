// Package export fetches a rendered page from the backend and merges it with
// the viewer's annotation layer into a single PDF.
package export

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/backend"
	"github.com/JakeFAU/webannotate/internal/webview"
)

// DocumentExtension is the blob type handed to the viewer.
const DocumentExtension = "png"

// Backend is the part of the backend client the assembler needs.
type Backend interface {
	Download(ctx context.Context, target string) (backend.Response, error)
}

// Assembler produces AssembledDocuments.
type Assembler struct {
	backend Backend
	viewer  webview.Viewer
	logger  *zap.Logger
}

// New builds an Assembler. A nil viewer is allowed; Export then fails with a
// precondition error until one is supplied.
func New(b Backend, viewer webview.Viewer, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{backend: b, viewer: viewer, logger: logger}
}

// Viewer returns the injected viewer, if any.
func (a *Assembler) Viewer() webview.Viewer {
	return a.viewer
}

// Export renders session through the backend, loads the image into the
// viewer and flattens the current annotations onto it. Every step runs after
// the previous one has finished.
func (a *Assembler) Export(ctx context.Context, session webview.ResolvedSession) (webview.AssembledDocument, error) {
	if !session.Resolvable() {
		return webview.AssembledDocument{}, webview.NewError(
			webview.KindPrecondition, webview.MsgInvalidURL, errors.New("no resolved session"),
		)
	}
	if a.viewer == nil {
		return webview.AssembledDocument{}, webview.NewError(
			webview.KindPrecondition, webview.MsgViewerNotReady, errors.New("viewer not injected"),
		)
	}

	resp, err := a.backend.Download(ctx, session.ValidURL.String())
	if err != nil {
		return webview.AssembledDocument{}, webview.NewError(webview.KindConnectivity, webview.MsgDownloadUnreachable, err)
	}
	if !resp.Success() {
		return webview.AssembledDocument{}, webview.NewError(
			webview.KindRenderFailed, webview.MsgRenderFailed, fmt.Errorf("download returned status %d", resp.StatusCode),
		)
	}

	rendered, err := parseRender(resp.Body, session.Viewport())
	if err != nil {
		return webview.AssembledDocument{}, assemblyFailed(err)
	}
	a.logger.Debug("render received",
		zap.String("url", session.ValidURL.String()),
		zap.Int("bytes", len(rendered.blob)),
		zap.Float64("width", rendered.dims.Width),
		zap.Float64("height", rendered.dims.Height),
	)

	doc, err := a.viewer.CreateDocument(ctx, rendered.blob, webview.DocumentOptions{
		Extension: DocumentExtension,
		PageSizes: []webview.Dimensions{rendered.dims},
	})
	if err != nil {
		return webview.AssembledDocument{}, assemblyFailed(fmt.Errorf("create document: %w", err))
	}
	manager := a.viewer.AnnotationManager()
	if manager == nil {
		return webview.AssembledDocument{}, assemblyFailed(errors.New("viewer has no annotation manager"))
	}
	xfdf, err := manager.ExportAnnotations(ctx)
	if err != nil {
		return webview.AssembledDocument{}, assemblyFailed(fmt.Errorf("export annotations: %w", err))
	}
	data, err := doc.FileData(ctx, webview.FileDataOptions{XFDF: xfdf})
	if err != nil {
		return webview.AssembledDocument{}, assemblyFailed(fmt.Errorf("file data: %w", err))
	}

	return webview.AssembledDocument{
		Data:       data,
		Dimensions: rendered.dims,
		SourceURL:  session.ValidURL,
	}, nil
}

type render struct {
	blob []byte
	dims webview.Dimensions
}

// parseRender decodes {buffer:{data:[...]}, pageDimensions:{width,height}}.
func parseRender(body []byte, fallback webview.Dimensions) (render, error) {
	if !gjson.ValidBytes(body) {
		return render{}, errors.New("render response is not valid JSON")
	}
	data := gjson.GetBytes(body, "buffer.data")
	if !data.IsArray() {
		return render{}, errors.New("render response has no buffer.data array")
	}
	values := data.Array()
	if len(values) == 0 {
		return render{}, errors.New("render buffer is empty")
	}
	blob := make([]byte, len(values))
	for i, v := range values {
		n := v.Num
		if v.Type != gjson.Number || n < 0 || n > 255 || n != float64(int(n)) {
			return render{}, fmt.Errorf("render buffer value %d is not a byte: %s", i, v.Raw)
		}
		blob[i] = byte(n)
	}

	dims := webview.Dimensions{
		Width:  gjson.GetBytes(body, "pageDimensions.width").Float(),
		Height: gjson.GetBytes(body, "pageDimensions.height").Float(),
	}
	if !dims.Valid() {
		dims = fallback
	}
	return render{blob: blob, dims: dims}, nil
}

func assemblyFailed(err error) error {
	return webview.NewError(webview.KindAssemblyFailed, webview.MsgAssemblyFailed, err)
}
