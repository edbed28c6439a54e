package extractor

import (
	"regexp"
	"strings"
)

// Rule extracts at most one key/value from a line of recognized text. Apply
// returns an empty key when the line does not match. An error marks the
// rule inert for the remainder of the run; it never aborts extraction.
type Rule interface {
	Name() string
	Apply(line string) (key string, value interface{}, err error)
}

// FuncRule adapts a function to the Rule interface.
type FuncRule struct {
	RuleName string
	Fn       func(line string) (string, interface{}, error)
}

func (r FuncRule) Name() string { return r.RuleName }

func (r FuncRule) Apply(line string) (string, interface{}, error) { return r.Fn(line) }

// Label-value patterns seen on retail packaging. Keys deliberately include
// aliases that are not product fields (weight, size, halal, gluten_free,
// no_of_packs, flavour, origin_country); the validation pass downstream
// drops what it does not recognize.
var (
	priceRe     = regexp.MustCompile(`(?i)(?:price|mrp)\s*[:\-]?\s*([₹$]\s?\d+[.,]?\d*)`)
	weightRe    = regexp.MustCompile(`(?i)\bweight\s*[:\-]?\s*(\d+(?:\.\d+)?\s*(?:g|kg|ml|l))\b`)
	sizeRe      = regexp.MustCompile(`(?i)\bsize\s*[:\-]?\s*(\d+(?:\.\d+)?\s*(?:cm|mm|inch|in))\b`)
	flavourRe   = regexp.MustCompile(`(?i)\bflavour\s*[:\-]?\s*([A-Za-z ]+)`)
	itemCountRe = regexp.MustCompile(`(?i)\bitem[s]?\s*count\s*[:\-]?\s*(\d+)`)
	packsRe     = regexp.MustCompile(`(?i)\bno(?:\.| of)?\s*pack(?:s)?\s*[:\-]?\s*(\d+)`)
)

// applyBuiltin evaluates the built-in rules against one trimmed line in
// fixed priority order.
func applyBuiltin(line string, fields map[string]interface{}, stats *Stats) {
	lower := strings.ToLower(line)

	storeString := func(key, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		store(fields, stats, key, value)
	}
	storeAfterColon := func(key string) {
		if _, rhs, ok := strings.Cut(line, ":"); ok {
			storeString(key, rhs)
		}
	}

	if strings.HasPrefix(lower, "product name") || strings.HasPrefix(lower, "name of product") {
		storeAfterColon("product_name")
	}
	if strings.HasPrefix(lower, "brand") {
		storeAfterColon("brand")
	}
	if strings.HasPrefix(lower, "manufactured by") || strings.HasPrefix(lower, "produced by") {
		storeAfterColon("manufacturer")
	}
	if strings.HasPrefix(lower, "origin country") || strings.HasPrefix(lower, "originated from") {
		storeAfterColon("origin_country")
	}
	if m := priceRe.FindStringSubmatch(line); m != nil {
		storeString("price", m[1])
	}
	if m := weightRe.FindStringSubmatch(line); m != nil {
		storeString("weight", m[1])
	}
	if m := sizeRe.FindStringSubmatch(line); m != nil {
		storeString("size", m[1])
	}
	if strings.HasPrefix(lower, "ingredients") {
		storeAfterColon("ingredients")
	}
	if strings.Contains(lower, "halal") && (strings.Contains(lower, "yes") || strings.Contains(lower, "certified")) {
		store(fields, stats, "halal", true)
	}
	if strings.Contains(lower, "gluten free") || strings.Contains(lower, "gluten-free") {
		store(fields, stats, "gluten_free", true)
	}
	if m := flavourRe.FindStringSubmatch(line); m != nil {
		storeString("flavour", m[1])
	}
	if m := itemCountRe.FindStringSubmatch(line); m != nil {
		storeString("item_count", m[1])
	}
	if m := packsRe.FindStringSubmatch(line); m != nil {
		storeString("no_of_packs", m[1])
	}
}
