// Package tesseract provides a local OCR engine backed by the gosseract
// client. Recognized text fills the markdown evidence slot and line geometry
// fills the page boxes; structured annotations require an annotation-capable
// provider such as mistral.
package tesseract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/wudi/labelkit/ocr"
)

func init() {
	ocr.Register(New())
}

// Engine implements ocr.Engine using a locally installed Tesseract.
type Engine struct {
	clientFactory func() *gosseract.Client
}

// New constructs a Tesseract-backed engine.
func New() *Engine {
	return &Engine{clientFactory: gosseract.NewClient}
}

func (e *Engine) Name() string { return "tesseract" }

// Process recognizes the request image. Each call uses a fresh client, so
// the engine is safe for concurrent use.
func (e *Engine) Process(ctx context.Context, req ocr.Request) (*ocr.Response, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("tesseract: request %q has no image payload", req.ID)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	c := e.clientFactory()
	defer c.Close()
	if err := c.SetImageFromBytes(req.Image); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	for key, value := range req.Metadata {
		if key == "languages" {
			if err := c.SetLanguage(strings.Split(value, "+")...); err != nil {
				return nil, fmt.Errorf("set languages: %w", err)
			}
			continue
		}
		if err := c.SetVariable(gosseract.SettableVariable(key), value); err != nil {
			return nil, fmt.Errorf("set variable %s: %w", key, err)
		}
	}
	text, err := c.Text()
	if err != nil {
		return nil, fmt.Errorf("recognize text: %w", err)
	}
	page := ocr.Page{Markdown: strings.TrimSpace(text), Boxes: lineBoxes(c)}
	return &ocr.Response{Model: e.Name(), Pages: []ocr.Page{page}}, nil
}

// lineBoxes converts recognized line geometry into the x0,y0,x1,y1 form the
// rest of the pipeline expects.
func lineBoxes(c *gosseract.Client) []interface{} {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil || len(boxes) == 0 {
		return nil
	}
	out := make([]interface{}, 0, len(boxes))
	for _, b := range boxes {
		out = append(out, []float64{
			float64(b.Box.Min.X),
			float64(b.Box.Min.Y),
			float64(b.Box.Max.X),
			float64(b.Box.Max.Y),
		})
	}
	return out
}
