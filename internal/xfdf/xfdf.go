// Package xfdf reads annotation layers exchanged in XFDF form and renders
// them as SVG overlays in PDF coordinate space.
package xfdf

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Supported annotation element names.
const (
	TypeSquare    = "square"
	TypeCircle    = "circle"
	TypeLine      = "line"
	TypePolyline  = "polyline"
	TypePolygon   = "polygon"
	TypeInk       = "ink"
	TypeFreeText  = "freetext"
	TypeHighlight = "highlight"
	TypeUnderline = "underline"
	TypeStrikeout = "strikeout"
	TypeText      = "text"
)

const (
	defaultColor    = "#000000"
	defaultWidth    = 1.0
	defaultFontSize = 12.0

	// Empty is a valid XFDF document with no annotations.
	Empty = `<?xml version="1.0" encoding="UTF-8"?><xfdf xmlns="http://ns.adobe.com/xfdf/" xml:space="preserve"><annots/></xfdf>`
)

var (
	colorPattern    = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	fontSizePattern = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s+Tf`)

	supported = map[string]bool{
		TypeSquare: true, TypeCircle: true, TypeLine: true, TypePolyline: true,
		TypePolygon: true, TypeInk: true, TypeFreeText: true, TypeHighlight: true,
		TypeUnderline: true, TypeStrikeout: true, TypeText: true,
	}
)

// Point is a coordinate in PDF space (origin bottom-left).
type Point struct {
	X, Y float64
}

// Rect is an axis-aligned box in PDF space.
type Rect struct {
	X1, Y1, X2, Y2 float64
}

// Normalize orders the corners so X1<=X2 and Y1<=Y2.
func (r Rect) Normalize() Rect {
	if r.X1 > r.X2 {
		r.X1, r.X2 = r.X2, r.X1
	}
	if r.Y1 > r.Y2 {
		r.Y1, r.Y2 = r.Y2, r.Y1
	}
	return r
}

// Annotation is one parsed annotation element.
type Annotation struct {
	Type          string
	Name          string
	Page          int
	Rect          Rect
	Color         string
	InteriorColor string
	Width         float64
	Opacity       float64
	FontSize      float64
	Contents      string
	// Points holds line endpoints or polyline/polygon vertices.
	Points []Point
	// Paths holds ink gestures.
	Paths [][]Point
	// Quads holds text markup quadrilaterals, four points each.
	Quads [][]Point
}

// Document is a parsed annotation layer.
type Document struct {
	Annotations []Annotation
	// Skipped counts elements that were not understood.
	Skipped int
}

// Parse reads an XFDF string. Blank input yields an empty document.
func Parse(raw string) (*Document, error) {
	if strings.TrimSpace(raw) == "" {
		return &Document{}, nil
	}
	root, err := xmlquery.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse xfdf: %w", err)
	}
	if xmlquery.FindOne(root, "/*[local-name()='xfdf']") == nil {
		return nil, errors.New("parse xfdf: missing xfdf root element")
	}
	nodes, err := xmlquery.QueryAll(root, "//*[local-name()='annots']/*")
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}

	doc := &Document{}
	for _, n := range nodes {
		name := strings.ToLower(n.Data)
		if !supported[name] {
			doc.Skipped++
			continue
		}
		a, err := parseAnnotation(name, n)
		if err != nil {
			return nil, fmt.Errorf("%s annotation: %w", name, err)
		}
		doc.Annotations = append(doc.Annotations, a)
	}
	return doc, nil
}

// Page returns the annotations placed on page (zero based).
func (d *Document) Page(page int) []Annotation {
	var out []Annotation
	for _, a := range d.Annotations {
		if a.Page == page {
			out = append(out, a)
		}
	}
	return out
}

func parseAnnotation(name string, n *xmlquery.Node) (Annotation, error) {
	a := Annotation{
		Type:          name,
		Name:          n.SelectAttr("name"),
		Color:         color(n.SelectAttr("color"), defaultColor),
		InteriorColor: color(n.SelectAttr("interior-color"), ""),
		Width:         number(n.SelectAttr("width"), defaultWidth),
		Opacity:       number(n.SelectAttr("opacity"), 1),
	}
	if p := n.SelectAttr("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err != nil || page < 0 {
			return a, fmt.Errorf("invalid page %q", p)
		}
		a.Page = page
	}
	if r := n.SelectAttr("rect"); r != "" {
		vals, err := floats(r, ",")
		if err != nil || len(vals) != 4 {
			return a, fmt.Errorf("invalid rect %q", r)
		}
		a.Rect = Rect{vals[0], vals[1], vals[2], vals[3]}.Normalize()
	}
	if c := child(n, "contents"); c != nil {
		a.Contents = c.InnerText()
	}

	var err error
	switch name {
	case TypeLine:
		a.Points, err = linePoints(n)
	case TypePolyline, TypePolygon:
		v := child(n, "vertices")
		if v == nil {
			return a, errors.New("missing vertices")
		}
		a.Points, err = points(v.InnerText())
	case TypeInk:
		for _, g := range xmlquery.Find(n, "./*[local-name()='inklist']/*[local-name()='gesture']") {
			path, perr := points(g.InnerText())
			if perr != nil {
				return a, perr
			}
			a.Paths = append(a.Paths, path)
		}
	case TypeHighlight, TypeUnderline, TypeStrikeout:
		a.Quads, err = quads(n.SelectAttr("coords"))
		if err == nil && len(a.Quads) == 0 {
			a.Quads = [][]Point{rectQuad(a.Rect)}
		}
	case TypeFreeText:
		a.FontSize = defaultFontSize
		if m := fontSizePattern.FindStringSubmatch(n.SelectAttr("defaultappearance")); m != nil {
			a.FontSize = number(m[1], defaultFontSize)
		}
	}
	return a, err
}

func child(n *xmlquery.Node, local string) *xmlquery.Node {
	return xmlquery.FindOne(n, "./*[local-name()='"+local+"']")
}

func linePoints(n *xmlquery.Node) ([]Point, error) {
	start, err := floats(n.SelectAttr("start"), ",")
	if err != nil || len(start) != 2 {
		return nil, fmt.Errorf("invalid start %q", n.SelectAttr("start"))
	}
	end, err := floats(n.SelectAttr("end"), ",")
	if err != nil || len(end) != 2 {
		return nil, fmt.Errorf("invalid end %q", n.SelectAttr("end"))
	}
	return []Point{{start[0], start[1]}, {end[0], end[1]}}, nil
}

// points parses "x,y;x,y;..." lists.
func points(s string) ([]Point, error) {
	var out []Point
	for _, pair := range strings.Split(strings.TrimSpace(s), ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		vals, err := floats(pair, ",")
		if err != nil || len(vals) != 2 {
			return nil, fmt.Errorf("invalid point %q", pair)
		}
		out = append(out, Point{vals[0], vals[1]})
	}
	return out, nil
}

func quads(s string) ([][]Point, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	vals, err := floats(s, ",")
	if err != nil || len(vals)%8 != 0 {
		return nil, fmt.Errorf("invalid coords %q", s)
	}
	out := make([][]Point, 0, len(vals)/8)
	for i := 0; i < len(vals); i += 8 {
		out = append(out, []Point{
			{vals[i], vals[i+1]}, {vals[i+2], vals[i+3]},
			{vals[i+4], vals[i+5]}, {vals[i+6], vals[i+7]},
		})
	}
	return out, nil
}

func rectQuad(r Rect) []Point {
	return []Point{{r.X1, r.Y2}, {r.X2, r.Y2}, {r.X1, r.Y1}, {r.X2, r.Y1}}
}

func floats(s, sep string) ([]float64, error) {
	parts := strings.Split(s, sep)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func number(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func color(s, fallback string) string {
	if colorPattern.MatchString(s) {
		return strings.ToUpper(s)
	}
	return fallback
}
