// Package ocr defines the contract between the extraction pipeline and
// pluggable OCR providers. A provider consumes a single labelled image and
// returns up to three evidence slots: a document-level structured annotation,
// a list of per-region annotations, and per-page markdown with image
// geometry. Engines register under a name so callers can select providers at
// runtime without linking provider packages into every binary.
package ocr
