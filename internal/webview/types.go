package webview

import (
	"strings"
)

// NormalizedURL is an absolute http(s) address that passed the plausibility
// check.
type NormalizedURL string

// String returns the URL as a plain string.
func (u NormalizedURL) String() string {
	return string(u)
}

// Dimensions is a page or viewport size in PDF points.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// ResolvedSession is the result of a successful proxy round trip. It is
// replaced wholesale on every submission and never mutated.
type ResolvedSession struct {
	ValidURL       NormalizedURL `json:"validUrl"`
	EmbedPath      string        `json:"embedPath"`
	ViewportWidth  float64       `json:"viewportWidth"`
	ViewportHeight float64       `json:"viewportHeight"`
}

// Viewport returns the session viewport as Dimensions.
func (s ResolvedSession) Viewport() Dimensions {
	return Dimensions{Width: s.ViewportWidth, Height: s.ViewportHeight}
}

// Resolvable reports whether the session can be exported.
func (s ResolvedSession) Resolvable() bool {
	return strings.TrimSpace(string(s.ValidURL)) != "" && strings.TrimSpace(s.EmbedPath) != ""
}

// Resolution is the outcome of a proxy resolve. Degraded is set when the
// backend answered successfully but its body could not be used and the
// submitted URL was kept as a fallback.
type Resolution struct {
	Session  ResolvedSession
	Degraded bool
	Reason   string
}

// AssembledDocument is a freshly merged PDF ready for delivery.
type AssembledDocument struct {
	Data       []byte
	Dimensions Dimensions
	SourceURL  NormalizedURL
}

// DocumentOptions mirrors the viewer's document creation options.
type DocumentOptions struct {
	Extension string
	PageSizes []Dimensions
}

// FileDataOptions controls how a viewer document is flattened to bytes.
type FileDataOptions struct {
	XFDF string
}

// ToolbarGroupView is the view-only tool group of the viewer.
const ToolbarGroupView = "toolbarGroup-View"

// ToolbarGroupAnnotate is the drawing tool group, active for every new session.
const ToolbarGroupAnnotate = "toolbarGroup-Annotate"
