package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatEventTime(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Time
		expected string
	}{
		{
			name:     "utc time truncated to seconds",
			input:    time.Date(2025, 3, 14, 9, 26, 53, 589793, time.UTC),
			expected: "2025-03-14 09:26:53",
		},
		{
			name:     "non-utc time converted",
			input:    time.Date(2025, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600)),
			expected: "2025-03-14 08:26:53",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatEventTime(tt.input))
		})
	}
}

func TestFormatEventTimeZeroDefaultsToNow(t *testing.T) {
	before := time.Now().UTC().Add(-time.Second).Format("2006-01-02 15:04:05")
	got := formatEventTime(time.Time{})
	after := time.Now().UTC().Add(time.Second).Format("2006-01-02 15:04:05")

	assert.GreaterOrEqual(t, got, before)
	assert.LessOrEqual(t, got, after)
}

func TestLookbackCutoff(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "2025-06-01 12:00:00", LookbackCutoff(now, 24))
	assert.Equal(t, "2025-06-02 11:00:00", LookbackCutoff(now, 1))
}

func TestLookbackCutoffOrdersLexically(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	inside := formatEventTime(now.Add(-2 * time.Hour))
	outside := formatEventTime(now.Add(-30 * time.Hour))
	cutoff := LookbackCutoff(now, 24)

	assert.True(t, inside >= cutoff)
	assert.True(t, outside < cutoff)
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected int64
	}{
		{"int64", int64(42), 42},
		{"int", 7, 7},
		{"float64", float64(3), 3},
		{"nil", nil, 0},
		{"string ignored", "5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, asInt64(tt.input))
		})
	}
}

func TestGetFloat64(t *testing.T) {
	row := map[string]any{
		"similarity": 0.25,
		"count":      int64(4),
	}

	assert.Equal(t, 0.25, getFloat64(row, "similarity"))
	assert.Equal(t, 4.0, getFloat64(row, "count"))
	assert.Equal(t, 0.0, getFloat64(row, "missing"))
}
