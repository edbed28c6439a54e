package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// Content types commonly produced by label photography. Providers accept any
// image type they can decode; these constants cover the usual cases.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEWebP = "image/webp"
	MIMETIFF = "image/tiff"
)

// Request encapsulates a single image submitted for analysis.
type Request struct {
	// ID is a caller-provided identifier that is echoed back as the image_id
	// of structured annotations. Usually the file base name.
	ID string
	// Image is the encoded payload in the content type declared by MIME.
	// Ignored when DocumentURL is set.
	Image []byte
	// MIME declares the image content type (e.g. image/png).
	MIME string
	// DocumentURL points at a hosted or pre-uploaded document. Providers
	// that support remote documents fetch it instead of inlining Image.
	DocumentURL string
	// Model overrides the provider's default model identifier.
	Model string
	// DocumentFormat requests a document-level structured annotation
	// conforming to the embedded schema.
	DocumentFormat *AnnotationFormat
	// BoxFormat requests per-region annotations for detected image blocks.
	BoxFormat *AnnotationFormat
	// IncludeImages asks the provider to echo extracted region payloads.
	IncludeImages bool
	// Metadata passes provider-specific knobs (for example tesseract
	// variables) without widening the API surface.
	Metadata map[string]string
}

// AnnotationFormat is the response-format envelope understood by
// annotation-capable providers.
type AnnotationFormat struct {
	Type       string           `json:"type"`
	JSONSchema AnnotationSchema `json:"json_schema"`
}

// AnnotationSchema carries the JSON schema that returned annotations must
// conform to.
type AnnotationSchema struct {
	Name   string                 `json:"name"`
	Schema map[string]interface{} `json:"schema"`
	Strict bool                   `json:"strict,omitempty"`
}

// NewFormat wraps a JSON schema in the json_schema envelope.
func NewFormat(name string, s map[string]interface{}) *AnnotationFormat {
	return &AnnotationFormat{
		Type:       "json_schema",
		JSONSchema: AnnotationSchema{Name: name, Schema: s, Strict: true},
	}
}

// BoxAnnotation is one entry of a provider's region annotation list. Entries
// with a Key and Value contribute fields during merging; entries with only a
// Label describe a region for visualization. Bbox holds the coordinates
// exactly as the provider returned them; callers parse them with geo.Parse
// so one malformed box cannot fail the whole response.
type BoxAnnotation struct {
	Key   string      `json:"key,omitempty"`
	Value interface{} `json:"value,omitempty"`
	Label string      `json:"label,omitempty"`
	Bbox  interface{} `json:"bbox,omitempty"`
}

// Page is one page of provider output.
type Page struct {
	Index    int
	Markdown string
	// Boxes carries raw image-block geometry, one value per detected block,
	// in the provider's native encoding. See BoxAnnotation.Bbox.
	Boxes []interface{}
}

// Response carries the evidence a provider extracted from one image. Any
// slot may be empty; callers decide how the populated slots combine.
type Response struct {
	// Model names the provider model that produced the response.
	Model string
	// DocumentAnnotation is the document-level annotation verbatim, as a
	// JSON document, when the request asked for one.
	DocumentAnnotation json.RawMessage
	// BoxAnnotations lists key/value region annotations, when the request
	// asked for them.
	BoxAnnotations []BoxAnnotation
	// BoxFields is the mapping form of region annotations, used by providers
	// that aggregate regions into a single object.
	BoxFields map[string]interface{}
	// Pages carries per-page markdown and image geometry.
	Pages []Page
}

// HasDocumentAnnotation reports whether a non-empty document annotation is
// present.
func (r *Response) HasDocumentAnnotation() bool {
	return len(bytes.TrimSpace(r.DocumentAnnotation)) > 0
}

// Markdown joins the markdown of all pages in page order.
func (r *Response) Markdown() string {
	parts := make([]string, 0, len(r.Pages))
	for _, page := range r.Pages {
		parts = append(parts, page.Markdown)
	}
	return strings.Join(parts, "\n")
}

// Engine is the provider contract: one image in, one response out.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Process(ctx context.Context, req Request) (*Response, error)
}
