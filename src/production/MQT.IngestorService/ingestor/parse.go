package mqtingestor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseReading parses a temperature or humidity payload
func ParseReading(payload string) (float64, error) {
	s := strings.TrimSpace(payload)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse reading %q: %w", payload, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse reading %q: not a finite number", payload)
	}
	return v, nil
}

// ParseMotion parses a motion payload. Fractional values are truncated, so
// "1.0" and "1.9" both count as 1.
func ParseMotion(payload string) (int, error) {
	s := strings.TrimSpace(payload)
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	v, err := ParseReading(s)
	if err != nil {
		return 0, fmt.Errorf("parse motion %q: %w", payload, err)
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, fmt.Errorf("parse motion %q: out of range", payload)
	}
	return int(v), nil
}
