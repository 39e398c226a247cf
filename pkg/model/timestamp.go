package model

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is a time.Time with a tolerant ISO-8601 JSON codec.
//
// The backend APIs are inconsistent about fractional seconds: the same
// field may arrive with no fractional part, millisecond precision, or
// microsecond precision. A decoder that accepts only one shape fails
// intermittently on valid data, so decoding normalizes the fractional
// part (truncating anything beyond milliseconds) before parsing.
// Encoding always emits millisecond precision UTC, which is the format
// the widget extension and shell script already parse.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t, truncated to millisecond precision.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.Truncate(time.Millisecond)}
}

const encodeLayout = "2006-01-02T15:04:05.000Z07:00"

var decodeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
}

// ParseISO8601 parses an ISO-8601 timestamp with 0, 3, or arbitrary-length
// fractional-second digits. Fractions longer than milliseconds are truncated.
func ParseISO8601(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("parse timestamp: empty string")
	}
	normalized := truncateFraction(s)
	var lastErr error
	for _, layout := range decodeLayouts {
		t, err := time.Parse(layout, normalized)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, lastErr)
}

// truncateFraction limits the fractional-second part of an ISO-8601 string
// to three digits. Strings without a fraction pass through unchanged.
func truncateFraction(s string) string {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return s
	}
	end := dot + 1
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	frac := s[dot+1 : end]
	if len(frac) > 3 {
		frac = frac[:3]
	}
	if frac == "" {
		// "2024-01-01T00:00:00.Z" is malformed; drop the bare dot.
		return s[:dot] + s[end:]
	}
	return s[:dot] + "." + frac + s[end:]
}

// MarshalJSON encodes the timestamp as ISO-8601 with millisecond precision.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(encodeLayout) + `"`), nil
}

// UnmarshalJSON decodes an ISO-8601 string, tolerating variable
// fractional-second precision.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	parsed, err := ParseISO8601(s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// Equal reports whether two timestamps denote the same instant.
func (t Timestamp) Equal(other Timestamp) bool {
	return t.Time.Equal(other.Time)
}
