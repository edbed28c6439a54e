package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedBox reports a bounding box with the wrong arity or a
// non-numeric member. Callers decide whether to skip or fail.
var ErrMalformedBox = errors.New("malformed bounding box")

// Box is a rectangular pixel region in corner form [x0 y0 x1 y1].
type Box struct {
	X0, Y0, X1, Y1 float64
}

// FromXYWH builds a Box from a top-left corner and extent.
func FromXYWH(x, y, width, height float64) Box {
	return Box{X0: x, Y0: y, X1: x + width, Y1: y + height}
}

// Parse interprets one loosely typed box value as it arrives from a JSON
// payload: a sequence of exactly four numeric members. Anything else
// yields an error wrapping ErrMalformedBox.
func Parse(v interface{}) (Box, error) {
	var members []interface{}
	switch t := v.(type) {
	case []interface{}:
		members = t
	case []float64:
		if len(t) != 4 {
			return Box{}, fmt.Errorf("%w: got %d coordinates, want 4", ErrMalformedBox, len(t))
		}
		return Box{X0: t[0], Y0: t[1], X1: t[2], Y1: t[3]}.Canonical(), nil
	case []int:
		if len(t) != 4 {
			return Box{}, fmt.Errorf("%w: got %d coordinates, want 4", ErrMalformedBox, len(t))
		}
		return Box{X0: float64(t[0]), Y0: float64(t[1]), X1: float64(t[2]), Y1: float64(t[3])}.Canonical(), nil
	default:
		return Box{}, fmt.Errorf("%w: not a coordinate list (%T)", ErrMalformedBox, v)
	}
	if len(members) != 4 {
		return Box{}, fmt.Errorf("%w: got %d coordinates, want 4", ErrMalformedBox, len(members))
	}
	coords := make([]float64, 4)
	for i, m := range members {
		f, ok := numeric(m)
		if !ok {
			return Box{}, fmt.Errorf("%w: coordinate %d is %T, want number", ErrMalformedBox, i, m)
		}
		coords[i] = f
	}
	return Box{X0: coords[0], Y0: coords[1], X1: coords[2], Y1: coords[3]}.Canonical(), nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Canonical returns the box with corners ordered so X0 <= X1 and Y0 <= Y1.
func (b Box) Canonical() Box {
	if b.X0 > b.X1 {
		b.X0, b.X1 = b.X1, b.X0
	}
	if b.Y0 > b.Y1 {
		b.Y0, b.Y1 = b.Y1, b.Y0
	}
	return b
}

// Clamp restricts the box to a width x height image, origin top-left.
func (b Box) Clamp(width, height float64) Box {
	c := b.Canonical()
	c.X0 = math.Max(0, math.Min(c.X0, width))
	c.X1 = math.Max(0, math.Min(c.X1, width))
	c.Y0 = math.Max(0, math.Min(c.Y0, height))
	c.Y1 = math.Max(0, math.Min(c.Y1, height))
	return c
}

// Contains returns true if the point (x, y) is within the box.
func (b Box) Contains(x, y float64) bool {
	c := b.Canonical()
	return x >= c.X0 && x <= c.X1 && y >= c.Y0 && y <= c.Y1
}

// IsEmpty reports a box with no area.
func (b Box) IsEmpty() bool {
	c := b.Canonical()
	return c.X1-c.X0 <= 0 || c.Y1-c.Y0 <= 0
}

// Width returns the horizontal extent.
func (b Box) Width() float64 { return math.Abs(b.X1 - b.X0) }

// Height returns the vertical extent.
func (b Box) Height() float64 { return math.Abs(b.Y1 - b.Y0) }
