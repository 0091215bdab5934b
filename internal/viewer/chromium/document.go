package chromium

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webannotate/internal/webview"
	"github.com/JakeFAU/webannotate/internal/xfdf"
)

const pointsPerInch = 72.0

type document struct {
	viewer *Viewer
	image  []byte
	mime   string
	size   webview.Dimensions
}

// FileData flattens the annotations onto the image and prints a one-page PDF.
func (d *document) FileData(ctx context.Context, opts webview.FileDataOptions) ([]byte, error) {
	layer, err := xfdf.Parse(opts.XFDF)
	if err != nil {
		return nil, err
	}
	html, err := composePage(d.image, d.mime, d.size, layer.SVG(0, d.size))
	if err != nil {
		return nil, err
	}

	v := d.viewer
	if err := v.acquire(ctx); err != nil {
		return nil, err
	}
	defer v.release()

	taskCtx, taskCancel := chromedp.NewContext(v.allocator)
	defer taskCancel()
	// Cancel the browser tab when the caller gives up.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()
	taskCtx, cancel := context.WithTimeout(taskCtx, v.cfg.RenderTimeout)
	defer cancel()

	var pdf []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("#page", chromedp.ByID),
		chromedp.ActionFunc(func(ctx context.Context) error {
			buf, _, err := page.PrintToPDF().
				WithPaperWidth(d.size.Width / pointsPerInch).
				WithPaperHeight(d.size.Height / pointsPerInch).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			if err != nil {
				return fmt.Errorf("print to pdf: %w", err)
			}
			pdf = buf
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	v.logger.Debug("document printed",
		zap.Int("bytes", len(pdf)),
		zap.Int("annotations", len(layer.Annotations)),
	)
	return pdf, nil
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><style>
@page { size: {{.Width}}pt {{.Height}}pt; margin: 0; }
html, body { margin: 0; padding: 0; }
#page { position: relative; width: {{.Width}}pt; height: {{.Height}}pt; overflow: hidden; }
#page img, #page svg { position: absolute; top: 0; left: 0; width: 100%; height: 100%; }
</style></head>
<body><div id="page"><img src="{{.Image}}" alt="">{{.Overlay}}</div></body></html>`))

type pageData struct {
	Width   float64
	Height  float64
	Image   template.URL
	Overlay template.HTML
}

// composePage builds the HTML printed for one page. overlay must be SVG
// produced by the xfdf package, which escapes all text content.
func composePage(image []byte, mime string, size webview.Dimensions, overlay string) (string, error) {
	var buf bytes.Buffer
	err := pageTemplate.Execute(&buf, pageData{
		Width:  size.Width,
		Height: size.Height,
		// #nosec G203 -- mime comes from content sniffing, data is base64.
		Image: template.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)),
		// #nosec G203 -- overlay is generated SVG with escaped text.
		Overlay: template.HTML(overlay),
	})
	if err != nil {
		return "", fmt.Errorf("compose page: %w", err)
	}
	return buf.String(), nil
}
