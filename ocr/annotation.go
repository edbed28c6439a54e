package ocr

import (
	"bytes"
	"encoding/json"
	"strings"
)

// StripCodeFences removes a surrounding markdown code fence from a model
// response.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeAnnotation unwraps an annotation payload that may arrive as a JSON
// value, as a JSON-encoded string, or fenced in a markdown code block, and
// returns the bare JSON document. It returns nil for empty and null
// payloads.
func DecodeAnnotation(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			trimmed = []byte(StripCodeFences(s))
		}
	}
	if len(trimmed) == 0 {
		return nil
	}
	return trimmed
}
