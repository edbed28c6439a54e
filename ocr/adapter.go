package ocr

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/labelkit/schema"
)

// RequestOption mutates a request during construction.
type RequestOption func(*Request)

// WithModel overrides the provider's default model identifier.
func WithModel(model string) RequestOption {
	return func(req *Request) { req.Model = model }
}

// WithDocumentURL submits a hosted document instead of inline image bytes.
func WithDocumentURL(url string) RequestOption {
	return func(req *Request) { req.DocumentURL = url }
}

// WithDocumentFormat requests a document-level structured annotation.
func WithDocumentFormat(format *AnnotationFormat) RequestOption {
	return func(req *Request) { req.DocumentFormat = format }
}

// WithBoxFormat requests per-region annotations for detected image blocks.
func WithBoxFormat(format *AnnotationFormat) RequestOption {
	return func(req *Request) { req.BoxFormat = format }
}

// WithIncludeImages controls whether the provider echoes extracted region
// payloads in the response.
func WithIncludeImages(include bool) RequestOption {
	return func(req *Request) { req.IncludeImages = include }
}

// WithMetadata merges provider-specific settings into the request.
func WithMetadata(metadata map[string]string) RequestOption {
	return func(req *Request) {
		if len(metadata) == 0 {
			return
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string, len(metadata))
		}
		for k, v := range metadata {
			req.Metadata[k] = v
		}
	}
}

// DocumentFormat builds the annotation format for document-level product
// extraction under the given field layout version.
func DocumentFormat(v schema.Version) *AnnotationFormat {
	s := schema.DocumentSchema(v)
	schema.Strict(s)
	return NewFormat("product_annotation", s)
}

// BoxFormat builds the annotation format for labelling detected image
// regions.
func BoxFormat() *AnnotationFormat {
	s := schema.BoxSchema()
	schema.Strict(s)
	return NewFormat("box_annotation", s)
}

// RequestFromFile reads an image from disk and builds a request for it. The
// request ID is the file base name and the content type is derived from the
// extension, falling back to sniffing the payload.
func RequestFromFile(path string, opts ...RequestOption) (Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Request{}, fmt.Errorf("read image: %w", err)
	}
	return RequestFromBytes(filepath.Base(path), data, opts...), nil
}

// RequestFromBytes builds a request from an in-memory image payload.
func RequestFromBytes(id string, data []byte, opts ...RequestOption) Request {
	req := Request{ID: id, Image: data, MIME: DetectMIME(id, data)}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// DetectMIME resolves an image content type from the file name extension,
// sniffing the payload when the extension is unknown.
func DetectMIME(name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return MIMEPNG
	case ".jpg", ".jpeg":
		return MIMEJPEG
	case ".webp":
		return MIMEWebP
	case ".tif", ".tiff":
		return MIMETIFF
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	}
	if len(data) > 0 {
		if mime := http.DetectContentType(data); strings.HasPrefix(mime, "image/") {
			return mime
		}
	}
	return MIMEJPEG
}
