package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/quotabar/quotabar/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseISO8601_FractionalPrecision(t *testing.T) {
	want := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	wantMillis := time.Date(2026, 3, 14, 9, 26, 53, 589*int(time.Millisecond), time.UTC)

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"no fraction", "2026-03-14T09:26:53Z", want},
		{"three digits", "2026-03-14T09:26:53.589Z", wantMillis},
		{"six digits truncated", "2026-03-14T09:26:53.589793Z", wantMillis},
		{"nine digits truncated", "2026-03-14T09:26:53.589793238Z", wantMillis},
		{"one digit", "2026-03-14T09:26:53.5Z", time.Date(2026, 3, 14, 9, 26, 53, 500*int(time.Millisecond), time.UTC)},
		{"offset zone", "2026-03-14T09:26:53.589+02:00", wantMillis.Add(-2 * time.Hour).In(time.FixedZone("", 2*3600))},
		{"no zone", "2026-03-14T09:26:53", want},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := model.ParseISO8601(tt.input)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseISO8601_Invalid(t *testing.T) {
	for _, input := range []string{"", "not a date", "2026-13-99T00:00:00Z"} {
		_, err := model.ParseISO8601(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestTimestamp_JSONRoundTrip(t *testing.T) {
	ts := model.NewTimestamp(time.Date(2026, 8, 30, 17, 5, 0, 250*int(time.Millisecond), time.UTC))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2026-08-30T17:05:00.250Z"`, string(data))

	var back model.Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(ts))
}

func TestTimestamp_UnmarshalVariablePrecision(t *testing.T) {
	var ts model.Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2026-08-30T17:05:00.123456Z"`), &ts))
	assert.Equal(t, 123*int(time.Millisecond), ts.Nanosecond())

	require.NoError(t, json.Unmarshal([]byte(`"2026-08-30T17:05:00Z"`), &ts))
	assert.Equal(t, 0, ts.Nanosecond())
}
