package mistral

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/schema"
)

func newTestEngine(t *testing.T, handler http.Handler) (*Engine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	e := New("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	return e, srv
}

func TestProcessInlineImage(t *testing.T) {
	var got ocrRequest
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ocr" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %s", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		resp := map[string]interface{}{
			"model": "mistral-ocr-latest",
			"pages": []map[string]interface{}{
				{
					"index":    0,
					"markdown": "Product Name: Date Bar",
					"images": []map[string]interface{}{
						{
							"id":               "img-0",
							"top_left_x":       10,
							"top_left_y":       20,
							"bottom_right_x":   110,
							"bottom_right_y":   220,
							"image_annotation": `{"label":"nutrition table","x":10,"y":20,"width":100,"height":200}`,
						},
					},
				},
			},
			"document_annotation": `{"image_id":"front.png","product_details":{"product_name":"Date Bar"}}`,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))

	req := ocr.RequestFromBytes("front.png", []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a},
		ocr.WithDocumentFormat(ocr.DocumentFormat(schema.V1)),
		ocr.WithBoxFormat(ocr.BoxFormat()),
	)
	resp, err := e.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got.Model != DefaultModel {
		t.Errorf("request model = %q, want %q", got.Model, DefaultModel)
	}
	if got.Document.Type != "image_url" {
		t.Errorf("document type = %q, want image_url", got.Document.Type)
	}
	if !strings.HasPrefix(got.Document.ImageURL, "data:image/png;base64,") {
		t.Errorf("image url is not a png data url: %.40s", got.Document.ImageURL)
	}
	if got.DocumentAnnotationFormat == nil || got.DocumentAnnotationFormat.Type != "json_schema" {
		t.Errorf("document annotation format not forwarded: %#v", got.DocumentAnnotationFormat)
	}
	if got.BBoxAnnotationFormat == nil {
		t.Errorf("bbox annotation format not forwarded")
	}

	if !resp.HasDocumentAnnotation() {
		t.Fatalf("expected document annotation")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(resp.DocumentAnnotation, &doc); err != nil {
		t.Fatalf("annotation should be bare JSON: %v", err)
	}
	if doc["image_id"] != "front.png" {
		t.Errorf("unexpected annotation: %v", doc)
	}
	if len(resp.Pages) != 1 || resp.Pages[0].Markdown != "Product Name: Date Bar" {
		t.Fatalf("unexpected pages: %#v", resp.Pages)
	}
	if len(resp.Pages[0].Boxes) != 1 {
		t.Fatalf("expected one page box, got %d", len(resp.Pages[0].Boxes))
	}
	if len(resp.BoxAnnotations) != 1 || resp.BoxAnnotations[0].Label != "nutrition table" {
		t.Fatalf("unexpected box annotations: %#v", resp.BoxAnnotations)
	}
}

func TestProcessDocumentURL(t *testing.T) {
	var got ocrRequest
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"pages": []interface{}{}}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))

	req := ocr.Request{ID: "hosted.pdf", DocumentURL: "https://example.com/signed"}
	if _, err := e.Process(context.Background(), req); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Document.Type != "document_url" || got.Document.DocumentURL != "https://example.com/signed" {
		t.Fatalf("unexpected document: %#v", got.Document)
	}
}

func TestProcessRequiresPayload(t *testing.T) {
	e := New("test-key")
	if _, err := e.Process(context.Background(), ocr.Request{ID: "empty"}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}

func TestProcessRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream busy", http.StatusServiceUnavailable)
			return
		}
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"pages": []interface{}{}}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))

	req := ocr.Request{ID: "front.png", Image: []byte{1, 2, 3}, MIME: ocr.MIMEPNG}
	if _, err := e.Process(context.Background(), req); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestProcessFailsFastOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"invalid schema"}`, http.StatusBadRequest)
	}))

	req := ocr.Request{ID: "front.png", Image: []byte{1, 2, 3}, MIME: ocr.MIMEPNG}
	_, err := e.Process(context.Background(), req)
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("bad request should not be retried, got %d attempts", calls.Load())
	}
	if !strings.Contains(err.Error(), "invalid schema") {
		t.Fatalf("error should carry the response body: %v", err)
	}
}

func TestUploadAndSignedURL(t *testing.T) {
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/files":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
			if purpose := r.FormValue("purpose"); purpose != "ocr" {
				t.Errorf("purpose = %q, want ocr", purpose)
			}
			file, header, err := r.FormFile("file")
			if err != nil {
				t.Errorf("form file: %v", err)
			} else {
				file.Close()
				if header.Filename != "front.png" {
					t.Errorf("filename = %q", header.Filename)
				}
			}
			if err := json.NewEncoder(w).Encode(map[string]string{"id": "file-123"}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		case r.Method == http.MethodGet && r.URL.Path == "/v1/files/file-123/url":
			if expiry := r.URL.Query().Get("expiry"); expiry != "24" {
				t.Errorf("expiry = %q, want 24", expiry)
			}
			if err := json.NewEncoder(w).Encode(map[string]string{"url": "https://example.com/signed"}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		default:
			t.Errorf("unexpected call: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))

	id, err := e.Upload(context.Background(), "front.png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if id != "file-123" {
		t.Fatalf("unexpected file id: %s", id)
	}
	signed, err := e.SignedURL(context.Background(), id, 24*time.Hour)
	if err != nil {
		t.Fatalf("SignedURL() error = %v", err)
	}
	if signed != "https://example.com/signed" {
		t.Fatalf("unexpected signed url: %s", signed)
	}
}

func TestProcessHosted(t *testing.T) {
	var ocrDoc document
	e, _ := newTestEngine(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/files":
			if err := json.NewEncoder(w).Encode(map[string]string{"id": "file-9"}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		case "/v1/files/file-9/url":
			if err := json.NewEncoder(w).Encode(map[string]string{"url": "https://example.com/f9"}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		case "/v1/ocr":
			var req ocrRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			ocrDoc = req.Document
			if err := json.NewEncoder(w).Encode(map[string]interface{}{"pages": []interface{}{}}); err != nil {
				t.Errorf("encode response: %v", err)
			}
		default:
			t.Errorf("unexpected call: %s", r.URL.Path)
		}
	}))

	req := ocr.Request{ID: "front.png", Image: []byte{1, 2, 3}, MIME: ocr.MIMEPNG}
	if _, err := e.ProcessHosted(context.Background(), req); err != nil {
		t.Fatalf("ProcessHosted() error = %v", err)
	}
	if ocrDoc.Type != "document_url" || ocrDoc.DocumentURL != "https://example.com/f9" {
		t.Fatalf("hosted flow should process the signed url: %#v", ocrDoc)
	}
}

func TestConvertAnnotationForms(t *testing.T) {
	out := &ocrResponse{
		BBoxAnnotation: json.RawMessage(`"[{\"key\":\"brand\",\"value\":\"Acme\",\"bbox\":[1,2,3,4]}]"`),
	}
	resp := convert(out)
	if len(resp.BoxAnnotations) != 1 {
		t.Fatalf("expected list form to decode: %#v", resp)
	}
	if resp.BoxAnnotations[0].Key != "brand" || resp.BoxAnnotations[0].Value != "Acme" {
		t.Fatalf("unexpected entry: %#v", resp.BoxAnnotations[0])
	}

	out = &ocrResponse{BBoxAnnotation: json.RawMessage(`{"brand":"Acme"}`)}
	resp = convert(out)
	if resp.BoxFields["brand"] != "Acme" {
		t.Fatalf("expected mapping form to decode: %#v", resp.BoxFields)
	}
}

func TestDecodeAnnotationUnwraps(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`"{\"a\":1}"`, `{"a":1}`},
		{"\"```json\\n{\\\"a\\\":1}\\n```\"", `{"a":1}`},
		{`null`, ``},
		{``, ``},
	}
	for _, tc := range cases {
		got := ocr.DecodeAnnotation(json.RawMessage(tc.raw))
		if string(got) != tc.want {
			t.Errorf("DecodeAnnotation(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
