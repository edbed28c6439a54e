// Package schema defines the product record model shared by every stage of
// the extraction pipeline: the bilingual text leaf, the nested value types,
// the ordered field registry, tolerant construction from loosely typed
// evidence maps, and JSON Schema generation for annotation-capable OCR
// providers.
//
// Two schema versions exist. V1 declares every free-text leaf as a plain
// string; V2 wraps the same leaves in {en, ar} objects. Price, barcode,
// expiration date and batch number stay plain strings in both. The in-memory
// record is canonical (bilingual) regardless of version; the version only
// changes how evidence is coerced in and how the generated schema asks the
// provider to shape its output. One registry drives both.
package schema

import (
	"fmt"
	"strings"
)

// Version selects between the plain-string (V1) and bilingual (V2) record
// schemas.
type Version int

const (
	// V1 declares free-text leaves as plain strings.
	V1 Version = 1
	// V2 declares free-text leaves as {en, ar} objects.
	V2 Version = 2
)

func (v Version) String() string {
	switch v {
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("v%d", int(v))
	}
}

// Valid reports whether v names a known schema version.
func (v Version) Valid() bool { return v == V1 || v == V2 }

// ParseVersion accepts "1", "2", "v1" or "v2".
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1":
		return V1, nil
	case "2", "v2":
		return V2, nil
	default:
		return 0, fmt.Errorf("unknown schema version %q", s)
	}
}
