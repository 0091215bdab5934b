// Package stub is an in-memory viewer used by tests and by dry runs that
// have no browser available. It records the order of capability calls.
package stub

import (
	"context"
	"sync"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// Call names recorded by the stub.
const (
	CallCreateDocument    = "CreateDocument"
	CallExportAnnotations = "ExportAnnotations"
	CallFileData          = "FileData"
	CallSetToolbarGroup   = "SetToolbarGroup"
	CallImportAnnotations = "ImportAnnotations"
)

// Viewer implements webview.Viewer and webview.AnnotationImporter.
type Viewer struct {
	// Errors injected per call name.
	Errors map[string]error

	mu      sync.Mutex
	calls   []string
	xfdf    string
	group   string
	options []webview.DocumentOptions
	blobs   [][]byte
}

// New returns an empty stub viewer.
func New() *Viewer {
	return &Viewer{Errors: make(map[string]error)}
}

func (v *Viewer) record(name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, name)
	return v.Errors[name]
}

// CreateDocument remembers blob and opts.
func (v *Viewer) CreateDocument(_ context.Context, blob []byte, opts webview.DocumentOptions) (webview.Document, error) {
	if err := v.record(CallCreateDocument); err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.options = append(v.options, opts)
	v.blobs = append(v.blobs, append([]byte(nil), blob...))
	v.mu.Unlock()
	return &document{viewer: v, blob: blob}, nil
}

// AnnotationManager returns the stub itself.
func (v *Viewer) AnnotationManager() webview.AnnotationManager {
	return manager{v}
}

// SetToolbarGroup stores the active group.
func (v *Viewer) SetToolbarGroup(_ context.Context, name string) error {
	if err := v.record(CallSetToolbarGroup); err != nil {
		return err
	}
	v.mu.Lock()
	v.group = name
	v.mu.Unlock()
	return nil
}

// ImportAnnotations replaces the annotation layer. It is refused while the
// view-only group is active.
func (v *Viewer) ImportAnnotations(xfdf string) error {
	if err := v.record(CallImportAnnotations); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.group == webview.ToolbarGroupView {
		return webview.ErrReadOnly
	}
	v.xfdf = xfdf
	return nil
}

// ClearAnnotations drops the annotation layer. It is not recorded as a call.
func (v *Viewer) ClearAnnotations() {
	v.mu.Lock()
	v.xfdf = ""
	v.mu.Unlock()
}

// Calls returns the recorded call names in order.
func (v *Viewer) Calls() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

// ToolbarGroup returns the last group set.
func (v *Viewer) ToolbarGroup() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.group
}

// Options returns the options of every CreateDocument call.
func (v *Viewer) Options() []webview.DocumentOptions {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]webview.DocumentOptions(nil), v.options...)
}

// Blobs returns the blobs of every CreateDocument call.
func (v *Viewer) Blobs() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([][]byte(nil), v.blobs...)
}

type manager struct{ v *Viewer }

func (m manager) ExportAnnotations(context.Context) (string, error) {
	if err := m.v.record(CallExportAnnotations); err != nil {
		return "", err
	}
	m.v.mu.Lock()
	defer m.v.mu.Unlock()
	return m.v.xfdf, nil
}

type document struct {
	viewer *Viewer
	blob   []byte
}

// FileData returns the blob followed by the XFDF, which is enough for tests
// to see that both layers made it into the output.
func (d *document) FileData(_ context.Context, opts webview.FileDataOptions) ([]byte, error) {
	if err := d.viewer.record(CallFileData); err != nil {
		return nil, err
	}
	out := append([]byte(nil), d.blob...)
	return append(out, opts.XFDF...), nil
}
