package fingerprint

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params is the deterministic parameter set a synthesis request carries
// (sample rate, speed, pitch, etc). Values are JSON-scalar: string, bool,
// int64, or float64.
type Params map[string]interface{}

// Canonical encodes p as a deterministic, sorted-key, JSON-like string
// suitable for hashing. Numeric literals use their shortest round-trip
// form so the same logical value always canonicalizes identically
// regardless of how it arrived (1.0 and 1 both canonicalize to "1").
func Canonical(p Params) string {
	if len(p) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.WriteString(canonicalValue(p[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "true"
		}
		return "false"
	case string:
		return strconv.Quote(t)
	case int:
		return strconv.FormatInt(int64(t), 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return canonicalFloat(float64(t))
	case float64:
		return canonicalFloat(t)
	default:
		// Any other type (maps, slices, structs) is rendered with
		// fmt.Sprint and quoted as a single string.
		return fmt.Sprintf("%q", fmt.Sprint(t))
	}
}

// canonicalFloat renders a float in its shortest round-trip decimal form,
// collapsing whole-number floats (1.0) to integer literals (1) so that
// equivalent parameter values always hash the same regardless of the
// numeric type the caller happened to use.
func canonicalFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
