// Package gemini adapts Google's Gemini vision models to the ocr.Engine
// contract. Gemini has no dedicated OCR endpoint, so the engine prompts the
// model with the requested annotation schema and fills only the document
// annotation slot.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wudi/labelkit/ocr"
	"github.com/wudi/labelkit/schema"
)

// DefaultModel is used when neither the engine nor the request names one.
const DefaultModel = "gemini-1.5-flash"

const systemPrompt = `You read photographs of retail product labels and return structured
product data. Extract only what is printed on the label and never invent
values that are not visible. Respond with a single JSON document conforming
to the schema below. Any text outside the JSON document is an error.`

// Engine calls the Gemini generative API.
type Engine struct {
	apiKey string
	model  string
}

// New constructs a Gemini-backed engine. An empty model selects
// DefaultModel.
func New(apiKey, model string) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{apiKey: strings.TrimSpace(apiKey), model: model}
}

func (e *Engine) Name() string { return "gemini" }

// Process prompts the model with the request image and annotation schema,
// retrying transient generation failures before giving up.
func (e *Engine) Process(ctx context.Context, req ocr.Request) (*ocr.Response, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	if len(req.Image) == 0 {
		return nil, fmt.Errorf("gemini: request %q has no image payload", req.ID)
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(e.apiKey))
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	model := req.Model
	if model == "" {
		model = e.model
	}
	m := cl.GenerativeModel(model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: "application/json",
	}
	schemaJSON, err := schemaText(req)
	if err != nil {
		return nil, err
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{
			genai.Text(systemPrompt),
			genai.Text("\n" + schemaJSON),
		},
	}

	mime := req.MIME
	if mime == "" {
		mime = ocr.DetectMIME(req.ID, req.Image)
	}
	parts := []genai.Part{
		genai.Text("image_id: " + req.ID + "\nReturn only the JSON document."),
		&genai.Blob{MIMEType: mime, Data: req.Image},
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return nil, fmt.Errorf("gemini: empty response")
		}
		txt = ocr.StripCodeFences(strings.TrimSpace(txt))
		if !json.Valid([]byte(txt)) {
			salvaged, ok := outermostObject(txt)
			if !ok || !json.Valid([]byte(salvaged)) {
				return nil, fmt.Errorf("gemini: response is not JSON")
			}
			txt = salvaged
		}
		return &ocr.Response{Model: model, DocumentAnnotation: json.RawMessage(txt)}, nil
	}
	return nil, lastErr
}

// schemaText renders the annotation schema that accompanies the system
// prompt. Requests without an explicit format get the current bilingual
// product layout.
func schemaText(req ocr.Request) (string, error) {
	format := req.DocumentFormat
	if format == nil {
		format = ocr.DocumentFormat(schema.V2)
	}
	raw, err := json.Marshal(format.JSONSchema.Schema)
	if err != nil {
		return "", fmt.Errorf("gemini: encode schema: %w", err)
	}
	return string(raw), nil
}

// outermostObject trims stray prose around a JSON object.
func outermostObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
