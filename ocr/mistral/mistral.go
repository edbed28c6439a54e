// Package mistral implements the ocr.Engine contract on top of the Mistral
// OCR REST API. It is the only bundled provider that can fill all three
// evidence slots: document annotations, region annotations, and per-page
// markdown with image geometry.
package mistral

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wudi/labelkit/ocr"
)

// DefaultModel is the OCR model used when the request does not name one.
const DefaultModel = "mistral-ocr-latest"

const defaultBaseURL = "https://api.mistral.ai"

// Engine calls the Mistral OCR API. The zero value is not usable; construct
// engines with New.
type Engine struct {
	apiKey  string
	model   string
	baseURL string
	httpc   *http.Client
	retries int
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel sets the model used when requests do not name one.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithBaseURL points the engine at a different API host.
func WithBaseURL(base string) Option {
	return func(e *Engine) { e.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient substitutes the HTTP client used for API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.httpc = c }
}

// WithRetries sets how many attempts are made for transient failures.
func WithRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retries = n
		}
	}
}

// New constructs a Mistral-backed engine.
func New(apiKey string, opts ...Option) *Engine {
	e := &Engine{
		apiKey:  strings.TrimSpace(apiKey),
		model:   DefaultModel,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 2 * time.Minute},
		retries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "mistral" }

// Wire types for the OCR endpoint.

type ocrRequest struct {
	Model                    string                `json:"model"`
	Document                 document              `json:"document"`
	IncludeImageBase64       bool                  `json:"include_image_base64"`
	BBoxAnnotationFormat     *ocr.AnnotationFormat `json:"bbox_annotation_format,omitempty"`
	DocumentAnnotationFormat *ocr.AnnotationFormat `json:"document_annotation_format,omitempty"`
}

type document struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type ocrResponse struct {
	Model              string          `json:"model"`
	Pages              []responsePage  `json:"pages"`
	DocumentAnnotation json.RawMessage `json:"document_annotation,omitempty"`
	BBoxAnnotation     json.RawMessage `json:"bbox_annotation,omitempty"`
}

type responsePage struct {
	Index    int             `json:"index"`
	Markdown string          `json:"markdown"`
	Images   []responseImage `json:"images"`
}

type responseImage struct {
	ID              string          `json:"id"`
	TopLeftX        float64         `json:"top_left_x"`
	TopLeftY        float64         `json:"top_left_y"`
	BottomRightX    float64         `json:"bottom_right_x"`
	BottomRightY    float64         `json:"bottom_right_y"`
	ImageBase64     string          `json:"image_base64,omitempty"`
	ImageAnnotation json.RawMessage `json:"image_annotation,omitempty"`
}

// Process submits the request image to the OCR endpoint. Inline payloads are
// sent as base64 data URLs; requests carrying a DocumentURL are passed
// through untouched.
func (e *Engine) Process(ctx context.Context, req ocr.Request) (*ocr.Response, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("mistral: api key is empty")
	}
	model := req.Model
	if model == "" {
		model = e.model
	}
	doc, err := documentFor(req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(ocrRequest{
		Model:                    model,
		Document:                 doc,
		IncludeImageBase64:       req.IncludeImages,
		BBoxAnnotationFormat:     req.BoxFormat,
		DocumentAnnotationFormat: req.DocumentFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("mistral: encode request: %w", err)
	}
	raw, err := e.post(ctx, "/v1/ocr", payload)
	if err != nil {
		return nil, err
	}
	var out ocrResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("mistral: decode response: %w", err)
	}
	return convert(&out), nil
}

func documentFor(req ocr.Request) (document, error) {
	if req.DocumentURL != "" {
		return document{Type: "document_url", DocumentURL: req.DocumentURL}, nil
	}
	if len(req.Image) == 0 {
		return document{}, fmt.Errorf("mistral: request %q has neither image payload nor document url", req.ID)
	}
	mime := req.MIME
	if mime == "" {
		mime = ocr.DetectMIME(req.ID, req.Image)
	}
	encoded := base64.StdEncoding.EncodeToString(req.Image)
	return document{Type: "image_url", ImageURL: "data:" + mime + ";base64," + encoded}, nil
}

// convert maps the wire response to the provider-neutral form. Annotations
// arrive either as JSON values or as JSON-encoded strings; both forms are
// unwrapped before handing them to callers.
func convert(out *ocrResponse) *ocr.Response {
	resp := &ocr.Response{
		Model:              out.Model,
		DocumentAnnotation: ocr.DecodeAnnotation(out.DocumentAnnotation),
	}
	if raw := ocr.DecodeAnnotation(out.BBoxAnnotation); len(raw) > 0 {
		var entries []ocr.BoxAnnotation
		if err := json.Unmarshal(raw, &entries); err == nil {
			resp.BoxAnnotations = entries
		} else {
			var fields map[string]interface{}
			if err := json.Unmarshal(raw, &fields); err == nil {
				resp.BoxFields = fields
			}
		}
	}
	for _, p := range out.Pages {
		page := ocr.Page{Index: p.Index, Markdown: p.Markdown}
		for _, img := range p.Images {
			page.Boxes = append(page.Boxes, []float64{img.TopLeftX, img.TopLeftY, img.BottomRightX, img.BottomRightY})
			if entry, ok := regionAnnotation(img); ok {
				resp.BoxAnnotations = append(resp.BoxAnnotations, entry)
			}
		}
		resp.Pages = append(resp.Pages, page)
	}
	return resp
}

// regionAnnotation decodes a per-image annotation into a box entry. The
// annotation conforms to the box format requested alongside the OCR call,
// so it carries a label and region geometry rather than product fields.
func regionAnnotation(img responseImage) (ocr.BoxAnnotation, bool) {
	raw := ocr.DecodeAnnotation(img.ImageAnnotation)
	if len(raw) == 0 {
		return ocr.BoxAnnotation{}, false
	}
	var ann struct {
		Key    string      `json:"key"`
		Value  interface{} `json:"value"`
		Label  string      `json:"label"`
		X      float64     `json:"x"`
		Y      float64     `json:"y"`
		Width  float64     `json:"width"`
		Height float64     `json:"height"`
	}
	if err := json.Unmarshal(raw, &ann); err != nil {
		return ocr.BoxAnnotation{}, false
	}
	entry := ocr.BoxAnnotation{Key: ann.Key, Value: ann.Value, Label: ann.Label}
	if ann.Width > 0 && ann.Height > 0 {
		entry.Bbox = []float64{ann.X, ann.Y, ann.X + ann.Width, ann.Y + ann.Height}
	} else {
		entry.Bbox = []float64{img.TopLeftX, img.TopLeftY, img.BottomRightX, img.BottomRightY}
	}
	return entry, true
}

// Upload stores a document with the files API for later OCR processing and
// returns its identifier.
func (e *Engine) Upload(ctx context.Context, name string, content []byte) (string, error) {
	if e.apiKey == "" {
		return "", fmt.Errorf("mistral: api key is empty")
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("purpose", "ocr"); err != nil {
		return "", fmt.Errorf("mistral: encode upload: %w", err)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("mistral: encode upload: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return "", fmt.Errorf("mistral: encode upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("mistral: encode upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/files", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	body, err := e.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("mistral: decode upload response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("mistral: upload response has no file id")
	}
	return out.ID, nil
}

// SignedURL exchanges a file identifier for a short-lived download URL.
func (e *Engine) SignedURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	hours := int(expiry / time.Hour)
	if hours < 1 {
		hours = 1
	}
	endpoint := fmt.Sprintf("%s/v1/files/%s/url?expiry=%d", e.baseURL, url.PathEscape(id), hours)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	body, err := e.do(req)
	if err != nil {
		return "", err
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("mistral: decode signed url response: %w", err)
	}
	if out.URL == "" {
		return "", fmt.Errorf("mistral: signed url response has no url")
	}
	return out.URL, nil
}

// ProcessHosted uploads the request payload through the files API and runs
// OCR against a signed URL instead of inlining the image bytes. Large
// images avoid the base64 size overhead this way.
func (e *Engine) ProcessHosted(ctx context.Context, req ocr.Request) (*ocr.Response, error) {
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("mistral: request %q has no image payload to upload", req.ID)
	}
	id, err := e.Upload(ctx, req.ID, req.Image)
	if err != nil {
		return nil, err
	}
	signed, err := e.SignedURL(ctx, id, 24*time.Hour)
	if err != nil {
		return nil, err
	}
	req.DocumentURL = signed
	req.Image = nil
	return e.Process(ctx, req)
}

// post sends a JSON payload, retrying transient failures with a short
// linear backoff.
func (e *Engine) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
		body, err := e.do(req)
		if err == nil {
			return body, nil
		}
		lastErr = err
		var se *statusError
		if errors.As(err, &se) && !retryable(se.code) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
	return nil, lastErr
}

func (e *Engine) do(req *http.Request) ([]byte, error) {
	resp, err := e.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{
			code: resp.StatusCode,
			msg:  fmt.Sprintf("mistral %s %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}
	return body, nil
}

type statusError struct {
	code int
	msg  string
}

func (s *statusError) Error() string { return s.msg }

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
