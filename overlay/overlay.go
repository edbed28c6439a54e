// Package overlay renders OCR bounding-box evidence onto a copy of the
// source image: page-level image blocks in one style, labelled region
// annotations in a second. Rendering is diagnostic, never part of record
// extraction, so malformed geometry is skipped and counted rather than
// failing the pass.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/labelkit/geo"
	"github.com/wudi/labelkit/observability"
	"github.com/wudi/labelkit/ocr"
)

// Style describes how one evidence class is stroked.
type Style struct {
	Color color.NRGBA
	Width int
}

// Default styles: page-level image blocks red, labelled regions blue.
var (
	PageStyle   = Style{Color: color.NRGBA{R: 0xE5, G: 0x1C, B: 0x23, A: 0xFF}, Width: 2}
	RegionStyle = Style{Color: color.NRGBA{R: 0x1E, G: 0x4B, B: 0xD2, A: 0xFF}, Width: 2}
)

// Annotation is a labelled pixel region, independent of the product record.
// It is the visualization form of one box-annotation entry.
type Annotation struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
}

// Report says what one render pass drew and what it had to drop.
type Report struct {
	// PageBoxes is the number of page-level boxes drawn.
	PageBoxes int
	// RegionBoxes is the number of region annotation boxes drawn.
	RegionBoxes int
	// Skipped counts boxes dropped for wrong arity or non-numeric members.
	Skipped int
}

// Renderer draws bounding-box evidence. Safe for concurrent use.
type Renderer struct {
	page   Style
	region Style
	labels bool
	log    observability.Logger
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithStyles overrides the page and region stroke styles.
func WithStyles(page, region Style) Option {
	return func(r *Renderer) {
		r.page = page
		r.region = region
	}
}

// WithLabels controls whether region labels are drawn next to their boxes.
func WithLabels(enabled bool) Option {
	return func(r *Renderer) { r.labels = enabled }
}

// WithLogger sets the logger used to report skipped geometry.
func WithLogger(log observability.Logger) Option {
	return func(r *Renderer) {
		if log != nil {
			r.log = log
		}
	}
}

// New creates a renderer with the default styles.
func New(opts ...Option) *Renderer {
	r := &Renderer{page: PageStyle, region: RegionStyle, labels: true, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws the response's box evidence onto a copy of src. The source
// image is never modified. Boxes are clamped to the image bounds; entries
// whose geometry cannot be parsed are skipped and counted. Region entries
// without geometry contribute nothing (they exist for field merging only)
// and are not counted as skipped.
func (r *Renderer) Render(src image.Image, resp *ocr.Response) (*image.NRGBA, Report) {
	bounds := src.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	var rep Report
	if resp == nil {
		return dst, rep
	}
	w, h := float64(dst.Rect.Dx()), float64(dst.Rect.Dy())

	for _, page := range resp.Pages {
		for _, raw := range page.Boxes {
			box, err := geo.Parse(raw)
			if err != nil {
				rep.Skipped++
				continue
			}
			strokeRect(dst, box.Clamp(w, h), r.page)
			rep.PageBoxes++
		}
	}
	for _, ann := range resp.BoxAnnotations {
		if ann.Bbox == nil {
			continue
		}
		box, err := geo.Parse(ann.Bbox)
		if err != nil {
			rep.Skipped++
			continue
		}
		box = box.Clamp(w, h)
		strokeRect(dst, box, r.region)
		rep.RegionBoxes++
		if r.labels && ann.Label != "" {
			drawLabel(dst, box, ann.Label, r.region.Color)
		}
	}

	if rep.Skipped > 0 {
		r.log.Warn("skipped malformed boxes",
			observability.Int(observability.MetricBoxesSkipped, rep.Skipped))
	}
	return dst, rep
}

// Annotations converts the response's region evidence into labelled
// rectangles, skipping entries with missing or malformed geometry. The
// second return value counts what was dropped.
func Annotations(resp *ocr.Response) ([]Annotation, int) {
	if resp == nil {
		return nil, 0
	}
	var out []Annotation
	skipped := 0
	for _, ann := range resp.BoxAnnotations {
		if ann.Bbox == nil {
			continue
		}
		box, err := geo.Parse(ann.Bbox)
		if err != nil {
			skipped++
			continue
		}
		label := ann.Label
		if label == "" {
			label = ann.Key
		}
		out = append(out, Annotation{
			X:      int(math.Round(box.X0)),
			Y:      int(math.Round(box.Y0)),
			Width:  int(math.Round(box.Width())),
			Height: int(math.Round(box.Height())),
			Label:  label,
		})
	}
	return out, skipped
}

// strokeRect draws the four border bands of a box. Bands are clipped by
// draw.Draw, so zero-area boxes simply draw nothing.
func strokeRect(dst *image.NRGBA, b geo.Box, style Style) {
	x0, y0 := int(math.Round(b.X0)), int(math.Round(b.Y0))
	x1, y1 := int(math.Round(b.X1)), int(math.Round(b.Y1))
	w := style.Width
	if w < 1 {
		w = 1
	}
	src := &image.Uniform{C: style.Color}
	for _, band := range []image.Rectangle{
		image.Rect(x0, y0, x1, y0+w),
		image.Rect(x0, y1-w, x1, y1),
		image.Rect(x0, y0, x0+w, y1),
		image.Rect(x1-w, y0, x1, y1),
	} {
		draw.Draw(dst, band, src, image.Point{}, draw.Src)
	}
}

// drawLabel renders the region label just inside the box's top-left corner.
func drawLabel(dst *image.NRGBA, b geo.Box, label string, c color.NRGBA) {
	face := basicfont.Face7x13
	x := int(math.Round(b.X0)) + 3
	y := int(math.Round(b.Y0)) + face.Ascent + 2
	if y > dst.Rect.Max.Y {
		y = dst.Rect.Max.Y
	}
	d := font.Drawer{
		Dst:  dst,
		Src:  &image.Uniform{C: c},
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(label)
}
