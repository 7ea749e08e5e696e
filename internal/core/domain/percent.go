package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ClampPercent bounds p to [0,100].
func ClampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ParsePercent converts the battery representations found in OS caches and
// profiler output into an integer percent.
//
// Accepted forms: integers 0-100, fractions in [0,1], floats above 1 as
// percentages, and strings of any of those with an optional "%" suffix.
// A bare numeric 1 is read as the fraction 1.0 and yields 100; a string
// with an explicit "%" suffix is never treated as a fraction.
func ParsePercent(v any) (int, bool) {
	switch n := v.(type) {
	case nil, bool:
		return 0, false
	case int:
		return fromInt(int64(n))
	case int8:
		return fromInt(int64(n))
	case int16:
		return fromInt(int64(n))
	case int32:
		return fromInt(int64(n))
	case int64:
		return fromInt(n)
	case uint:
		return fromInt(int64(n))
	case uint8:
		return fromInt(int64(n))
	case uint16:
		return fromInt(int64(n))
	case uint32:
		return fromInt(int64(n))
	case uint64:
		if n > math.MaxInt32 {
			return 100, true
		}
		return fromInt(int64(n))
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		return parsePercentString(string(n))
	case []byte:
		return parsePercentString(string(n))
	case string:
		return parsePercentString(n)
	default:
		return 0, false
	}
}

func fromInt(n int64) (int, bool) {
	switch {
	case n < 0:
		return 0, false
	case n == 1:
		return 100, true
	case n > 100:
		return 100, true
	default:
		return int(n), true
	}
}

func fromFloat(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	if f <= 1 {
		return ClampPercent(int(math.Round(f * 100))), true
	}
	return ClampPercent(int(math.Round(f))), true
}

func parsePercentString(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if trimmed, ok := strings.CutSuffix(s, "%"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
		if err != nil || math.IsNaN(f) || f < 0 {
			return 0, false
		}
		return ClampPercent(int(math.Round(f))), true
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromInt(i)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return fromFloat(f)
}
