package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrMissingRequired reports that a required field was absent or empty
	// in every evidence source.
	ErrMissingRequired = errors.New("missing required field")
	// ErrUnknownField reports a key that is not declared in the registry.
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue reports a value that cannot be coerced to its field's
	// declared shape.
	ErrInvalidValue = errors.New("invalid value")
)

// ValidationError aggregates every issue found while constructing a
// Product. errors.Is sees through it to the sentinel of each issue.
type ValidationError struct {
	Version Version
	Issues  []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, iss := range e.Issues {
		msgs[i] = iss.Error()
	}
	return fmt.Sprintf("schema %s: %s", e.Version, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error { return e.Issues }

// Report describes what a construction pass did: which declared keys were
// populated (registry order) and which input keys were dropped.
type Report struct {
	Populated []string
	Dropped   []string
}

// Build constructs a Product from a merged evidence mapping, strictly: an
// undeclared key or an uncoercible value is an error. Values are still
// coerced tolerantly within their declared shape (digit strings for counts,
// plain strings into V2 text leaves, single values promoted to one-element
// lists); nil and empty values count as absent.
func Build(version Version, data map[string]interface{}) (*Product, *Report, error) {
	return build(version, data, false)
}

// BuildLenient constructs a Product keeping only declared keys whose values
// coerce cleanly; everything else is dropped and reported. It fails only
// when the required product_name is absent or empty.
func BuildLenient(version Version, data map[string]interface{}) (*Product, *Report, error) {
	return build(version, data, true)
}

func build(version Version, data map[string]interface{}, lenient bool) (*Product, *Report, error) {
	p := &Product{}
	rep := &Report{}
	var issues []error

	var unknown []string
	for k := range data {
		if !IsDeclared(k) {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	if lenient {
		rep.Dropped = append(rep.Dropped, unknown...)
	} else {
		for _, k := range unknown {
			issues = append(issues, fmt.Errorf("field %q: %w", k, ErrUnknownField))
		}
	}

	for _, f := range fields {
		raw, ok := data[f.Key]
		if !ok || raw == nil {
			continue
		}
		v, err := coerce(version, f.Kind, raw)
		if err != nil {
			if lenient {
				rep.Dropped = append(rep.Dropped, f.Key)
				continue
			}
			issues = append(issues, fmt.Errorf("field %q: %w", f.Key, err))
			continue
		}
		if v == nil {
			continue
		}
		f.assign(p, v)
		rep.Populated = append(rep.Populated, f.Key)
	}

	if p.ProductName.IsZero() {
		issues = append(issues, fmt.Errorf("field %q: %w", "product_name", ErrMissingRequired))
	}
	if len(issues) > 0 {
		return nil, rep, &ValidationError{Version: version, Issues: issues}
	}
	return p, rep, nil
}

// coerce turns one loosely typed value into the Go value its field kind
// demands. A nil result with nil error means "present but empty", which
// callers treat as absent.
func coerce(version Version, kind Kind, v interface{}) (interface{}, error) {
	switch kind {
	case KindText:
		t, err := coerceText(version, v)
		if err != nil {
			return nil, err
		}
		if t.IsZero() {
			return nil, nil
		}
		return t, nil
	case KindString:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return s, nil
	case KindBool:
		return coerceBool(v)
	case KindInt:
		return coerceInt(v)
	case KindContent:
		return coerceContent(version, v)
	case KindDimensions:
		return coerceDimensions(version, v)
	case KindIngredientList:
		return coerceIngredients(version, v)
	case KindNutrientList:
		return coerceNutrients(version, v)
	case KindTextList:
		return coerceTextList(version, v)
	}
	return nil, fmt.Errorf("%w: unhandled field kind %d", ErrInvalidValue, kind)
}

func textFromString(version Version, s string) Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return Text{}
	}
	if version == V2 {
		return SplitText(s)
	}
	return Text{EN: s}
}

func coerceText(version Version, v interface{}) (Text, error) {
	switch t := v.(type) {
	case string:
		return textFromString(version, t), nil
	case Text:
		return t, nil
	case *Text:
		if t == nil {
			return Text{}, nil
		}
		return *t, nil
	case map[string]interface{}:
		var out Text
		if en, ok := t["en"]; ok && en != nil {
			s, ok := en.(string)
			if !ok {
				return Text{}, fmt.Errorf("%w: en slot is %T, want string", ErrInvalidValue, en)
			}
			out.EN = strings.TrimSpace(s)
		}
		if ar, ok := t["ar"]; ok && ar != nil {
			s, ok := ar.(string)
			if !ok {
				return Text{}, fmt.Errorf("%w: ar slot is %T, want string", ErrInvalidValue, ar)
			}
			out.AR = strings.TrimSpace(s)
		}
		return out, nil
	}
	return Text{}, fmt.Errorf("%w: want string or {en, ar} object, got %T", ErrInvalidValue, v)
}

func coerceString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	}
	return "", fmt.Errorf("%w: want string, got %T", ErrInvalidValue, v)
}

func coerceBool(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, t)
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: want boolean, got %T", ErrInvalidValue, v)
}

func coerceInt(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrInvalidValue, t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, t.String())
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, t)
		}
		return n, nil
	}
	return nil, fmt.Errorf("%w: want integer, got %T", ErrInvalidValue, v)
}

func coerceFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, t.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, t)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: want number, got %T", ErrInvalidValue, v)
}

func coerceContent(version Version, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case Content:
		return t, nil
	case map[string]interface{}:
		raw, ok := t["value"]
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: net content requires a value", ErrInvalidValue)
		}
		val, err := coerceFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("net content value: %w", err)
		}
		unit, err := coerceText(version, t["unit"])
		if err != nil {
			return nil, fmt.Errorf("net content unit: %w", err)
		}
		if unit.IsZero() {
			return nil, fmt.Errorf("%w: net content requires a unit", ErrInvalidValue)
		}
		return Content{Value: val, Unit: unit}, nil
	}
	return nil, fmt.Errorf("%w: want {value, unit} object, got %T", ErrInvalidValue, v)
}

func coerceDimensions(version Version, v interface{}) (interface{}, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		if d, isDim := v.(Dimensions); isDim {
			return d, nil
		}
		return nil, fmt.Errorf("%w: want dimensions object, got %T", ErrInvalidValue, v)
	}
	d := Dimensions{Unit: Text{EN: "cm"}}
	for _, side := range []struct {
		key string
		dst **float64
	}{
		{"length", &d.Length},
		{"width", &d.Width},
		{"height", &d.Height},
	} {
		raw, ok := m[side.key]
		if !ok || raw == nil {
			continue
		}
		f, err := coerceFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("dimensions %s: %w", side.key, err)
		}
		*side.dst = &f
	}
	if raw, ok := m["unit"]; ok && raw != nil {
		unit, err := coerceText(version, raw)
		if err != nil {
			return nil, fmt.Errorf("dimensions unit: %w", err)
		}
		if !unit.IsZero() {
			d.Unit = unit
		}
	}
	return d, nil
}

func coerceIngredients(version Version, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		// Heuristic extraction yields the whole list as one comma-joined
		// string.
		var list []Ingredient
		for _, part := range strings.Split(t, ",") {
			name := textFromString(version, part)
			if name.IsZero() {
				continue
			}
			list = append(list, Ingredient{Name: name})
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list, nil
	case map[string]interface{}:
		return coerceIngredients(version, []interface{}{t})
	case []interface{}:
		list := make([]Ingredient, 0, len(t))
		for i, el := range t {
			ing, err := coerceIngredient(version, el)
			if err != nil {
				return nil, fmt.Errorf("ingredient %d: %w", i, err)
			}
			list = append(list, ing)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list, nil
	}
	return nil, fmt.Errorf("%w: want ingredient list, got %T", ErrInvalidValue, v)
}

func coerceIngredient(version Version, v interface{}) (Ingredient, error) {
	switch t := v.(type) {
	case string:
		name := textFromString(version, t)
		if name.IsZero() {
			return Ingredient{}, fmt.Errorf("%w: empty ingredient name", ErrInvalidValue)
		}
		return Ingredient{Name: name}, nil
	case map[string]interface{}:
		name, err := coerceText(version, t["name"])
		if err != nil {
			return Ingredient{}, fmt.Errorf("name: %w", err)
		}
		if name.IsZero() {
			return Ingredient{}, fmt.Errorf("%w: ingredient requires a name", ErrInvalidValue)
		}
		ing := Ingredient{Name: name}
		if raw, ok := t["quantity"]; ok && raw != nil {
			q, err := coerceText(version, raw)
			if err != nil {
				return Ingredient{}, fmt.Errorf("quantity: %w", err)
			}
			if !q.IsZero() {
				ing.Quantity = &q
			}
		}
		if raw, ok := t["is_allergen"]; ok && raw != nil {
			b, err := coerceBool(raw)
			if err != nil {
				return Ingredient{}, fmt.Errorf("is_allergen: %w", err)
			}
			ing.IsAllergen = b.(bool)
		}
		return ing, nil
	}
	return Ingredient{}, fmt.Errorf("%w: want ingredient object, got %T", ErrInvalidValue, v)
}

func coerceNutrients(version Version, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return coerceNutrients(version, []interface{}{t})
	case []interface{}:
		list := make([]Nutrient, 0, len(t))
		for i, el := range t {
			n, err := coerceNutrient(version, el)
			if err != nil {
				return nil, fmt.Errorf("nutrient %d: %w", i, err)
			}
			list = append(list, n)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list, nil
	case []Nutrient:
		if len(t) == 0 {
			return nil, nil
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: want nutrient list, got %T", ErrInvalidValue, v)
}

func coerceNutrient(version Version, v interface{}) (Nutrient, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		if n, isNut := v.(Nutrient); isNut {
			return n, nil
		}
		return Nutrient{}, fmt.Errorf("%w: want nutrient object, got %T", ErrInvalidValue, v)
	}
	name, err := coerceText(version, m["name"])
	if err != nil {
		return Nutrient{}, fmt.Errorf("name: %w", err)
	}
	if name.IsZero() {
		return Nutrient{}, fmt.Errorf("%w: nutrient requires a name", ErrInvalidValue)
	}
	n := Nutrient{Name: name}
	if raw, ok := m["quantity"]; ok && raw != nil {
		f, err := coerceFloat(raw)
		if err != nil {
			return Nutrient{}, fmt.Errorf("quantity: %w", err)
		}
		n.Quantity = &f
	}
	if raw, ok := m["unit"]; ok && raw != nil {
		u, err := coerceText(version, raw)
		if err != nil {
			return Nutrient{}, fmt.Errorf("unit: %w", err)
		}
		if !u.IsZero() {
			n.Unit = &u
		}
	}
	if raw, ok := m["daily_value_percent"]; ok && raw != nil {
		f, err := coerceFloat(raw)
		if err != nil {
			return Nutrient{}, fmt.Errorf("daily_value_percent: %w", err)
		}
		n.DailyValuePercent = &f
	}
	return n, nil
}

func coerceTextList(version Version, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case string:
		txt := textFromString(version, t)
		if txt.IsZero() {
			return nil, nil
		}
		return []Text{txt}, nil
	case map[string]interface{}:
		return coerceTextList(version, []interface{}{t})
	case []interface{}:
		list := make([]Text, 0, len(t))
		for i, el := range t {
			txt, err := coerceText(version, el)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			if txt.IsZero() {
				continue
			}
			list = append(list, txt)
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list, nil
	case []Text:
		if len(t) == 0 {
			return nil, nil
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: want text list, got %T", ErrInvalidValue, v)
}
