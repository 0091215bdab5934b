package xfdf

import (
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"

	"github.com/JakeFAU/webannotate/internal/webview"
)

// SVG renders the annotations of page as a standalone SVG element sized to
// size. PDF y coordinates grow upwards, SVG ones downwards, so every y is
// flipped against the page height.
func (d *Document) SVG(page int, size webview.Dimensions) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="0 0 %s %s">`,
		num(size.Width), num(size.Height), num(size.Width), num(size.Height))
	r := renderer{b: &b, h: size.Height}
	for _, a := range d.Page(page) {
		r.annotation(a)
	}
	b.WriteString(`</svg>`)
	return b.String()
}

type renderer struct {
	b *strings.Builder
	h float64
}

func (r renderer) y(v float64) float64 {
	return r.h - v
}

func (r renderer) stroke(a Annotation) string {
	fill := "none"
	if a.InteriorColor != "" {
		fill = a.InteriorColor
	}
	return fmt.Sprintf(`stroke="%s" stroke-width="%s" fill="%s" opacity="%s"`,
		a.Color, num(a.Width), fill, num(math.Min(a.Opacity, 1)))
}

func (r renderer) annotation(a Annotation) {
	rect := a.Rect
	switch a.Type {
	case TypeSquare:
		fmt.Fprintf(r.b, `<rect x="%s" y="%s" width="%s" height="%s" %s/>`,
			num(rect.X1), num(r.y(rect.Y2)), num(rect.X2-rect.X1), num(rect.Y2-rect.Y1), r.stroke(a))
	case TypeCircle:
		fmt.Fprintf(r.b, `<ellipse cx="%s" cy="%s" rx="%s" ry="%s" %s/>`,
			num((rect.X1+rect.X2)/2), num(r.y((rect.Y1+rect.Y2)/2)),
			num((rect.X2-rect.X1)/2), num((rect.Y2-rect.Y1)/2), r.stroke(a))
	case TypeLine:
		if len(a.Points) == 2 {
			fmt.Fprintf(r.b, `<line x1="%s" y1="%s" x2="%s" y2="%s" %s/>`,
				num(a.Points[0].X), num(r.y(a.Points[0].Y)), num(a.Points[1].X), num(r.y(a.Points[1].Y)), r.stroke(a))
		}
	case TypePolyline:
		fmt.Fprintf(r.b, `<polyline points="%s" %s/>`, r.pointList(a.Points), r.stroke(a))
	case TypePolygon:
		fmt.Fprintf(r.b, `<polygon points="%s" %s/>`, r.pointList(a.Points), r.stroke(a))
	case TypeInk:
		for _, path := range a.Paths {
			if d := r.path(path); d != "" {
				fmt.Fprintf(r.b, `<path d="%s" stroke-linecap="round" stroke-linejoin="round" %s/>`, d, r.stroke(a))
			}
		}
	case TypeHighlight:
		for _, q := range a.Quads {
			box := bounds(q)
			fmt.Fprintf(r.b, `<rect x="%s" y="%s" width="%s" height="%s" fill="%s" fill-opacity="%s" stroke="none"/>`,
				num(box.X1), num(r.y(box.Y2)), num(box.X2-box.X1), num(box.Y2-box.Y1), a.Color, num(highlightOpacity(a)))
		}
	case TypeUnderline, TypeStrikeout:
		for _, q := range a.Quads {
			box := bounds(q)
			lineY := box.Y1
			if a.Type == TypeStrikeout {
				lineY = (box.Y1 + box.Y2) / 2
			}
			fmt.Fprintf(r.b, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="%s"/>`,
				num(box.X1), num(r.y(lineY)), num(box.X2), num(r.y(lineY)), a.Color, num(a.Width))
		}
	case TypeFreeText:
		if a.Width > 0 {
			fmt.Fprintf(r.b, `<rect x="%s" y="%s" width="%s" height="%s" %s/>`,
				num(rect.X1), num(r.y(rect.Y2)), num(rect.X2-rect.X1), num(rect.Y2-rect.Y1), r.stroke(a))
		}
		fmt.Fprintf(r.b, `<text x="%s" y="%s" font-family="Helvetica, Arial, sans-serif" font-size="%s" fill="%s">`,
			num(rect.X1+2), num(r.y(rect.Y2)+a.FontSize), num(a.FontSize), a.Color)
		for i, line := range strings.Split(a.Contents, "\n") {
			dy := "0"
			if i > 0 {
				dy = num(a.FontSize * 1.2)
			}
			fmt.Fprintf(r.b, `<tspan x="%s" dy="%s">%s</tspan>`, num(rect.X1+2), dy, html.EscapeString(line))
		}
		r.b.WriteString(`</text>`)
	case TypeText:
		fmt.Fprintf(r.b, `<g><title>%s</title><rect x="%s" y="%s" width="20" height="20" rx="3" fill="%s" stroke="#000000" stroke-width="0.5"/></g>`,
			html.EscapeString(a.Contents), num(rect.X1), num(r.y(rect.Y2)), noteColor(a))
	}
}

func (r renderer) pointList(pts []Point) string {
	parts := make([]string, 0, len(pts))
	for _, p := range pts {
		parts = append(parts, num(p.X)+","+num(r.y(p.Y)))
	}
	return strings.Join(parts, " ")
}

func (r renderer) path(pts []Point) string {
	if len(pts) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range pts {
		cmd := "L"
		if i == 0 {
			cmd = "M"
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(cmd + num(p.X) + " " + num(r.y(p.Y)))
	}
	return b.String()
}

func bounds(pts []Point) Rect {
	box := Rect{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1)}
	for _, p := range pts {
		box.X1 = math.Min(box.X1, p.X)
		box.Y1 = math.Min(box.Y1, p.Y)
		box.X2 = math.Max(box.X2, p.X)
		box.Y2 = math.Max(box.Y2, p.Y)
	}
	return box
}

func highlightOpacity(a Annotation) float64 {
	if a.Opacity < 1 {
		return a.Opacity
	}
	return 0.4
}

func noteColor(a Annotation) string {
	if a.Color == defaultColor {
		return "#FFE066"
	}
	return a.Color
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
