package vector

import (
	"encoding/json"
	"fmt"
	"math"
)

// SanitizeMetadata keeps strings, booleans and numbers as they are, drops nil
// values, renders maps and slices as JSON strings, and stringifies anything else.
func SanitizeMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if v = scalar(v); v != nil {
			out[k] = v
		}
	}
	return out
}

func scalar(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return t
	case fmt.Stringer:
		return t.String()
	case map[string]any, []any, []string, []int, []float64, map[string]string:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
