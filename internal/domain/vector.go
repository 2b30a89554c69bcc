package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatVector renders v as a list literal, e.g. "[0.1, 0.25, -3.0]".
// Every element is written in its shortest exact decimal form so that
// ParseVector(FormatVector(v)) reproduces v bit for bit. NaN and infinities
// have no literal form and are rejected.
func FormatVector(v Vector) (string, error) {
	var sb strings.Builder
	sb.Grow(len(v) * 12)
	sb.WriteByte('[')
	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("element %d is not finite: %v", i, f)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		s := strconv.FormatFloat(f, 'g', -1, 64)
		sb.WriteString(s)
		if !strings.ContainsAny(s, ".e") {
			sb.WriteString(".0")
		}
	}
	sb.WriteByte(']')
	return sb.String(), nil
}

// ParseVector parses a list literal produced by FormatVector (or any
// equivalent flat list of decimal numbers). Free-form text is not accepted.
func ParseVector(s string) (Vector, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("not a list literal: %q", preview(s))
	}
	var v Vector
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("malformed vector literal %q: %w", preview(s), err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vector literal")
	}
	return v, nil
}

// Float32 converts v for stores that keep single-precision vectors.
func (v Vector) Float32() []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

// FromFloat32 widens a single-precision vector.
func FromFloat32(f []float32) Vector {
	out := make(Vector, len(f))
	for i, x := range f {
		out[i] = float64(x)
	}
	return out
}

func preview(s string) string {
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}
