package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTimeRoundTrip(t *testing.T) {
	original := NewEventTime(time.Date(2026, 3, 1, 14, 30, 45, 0, time.UTC))

	data, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Equal(t, `"2026-03-01 14:30:45"`, string(data))

	var decoded EventTime
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded.Equal(original.Time))
}

func TestEventTimeUnmarshalEmpty(t *testing.T) {
	var decoded EventTime
	require.NoError(t, json.Unmarshal([]byte(`""`), &decoded))
	assert.True(t, decoded.IsZero())
}

func TestEventTimeUnmarshalRejectsBadFormat(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"rfc3339", `"2026-03-01T14:30:45Z"`},
		{"date only", `"2026-03-01"`},
		{"number", `1740840645`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded EventTime
			assert.Error(t, json.Unmarshal([]byte(tt.data), &decoded))
		})
	}
}

func TestNewEventTimeNormalizes(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	et := NewEventTime(time.Date(2026, 3, 1, 16, 30, 45, 987654321, loc))

	assert.Equal(t, time.UTC, et.Location())
	assert.Equal(t, 14, et.Hour())
	assert.Zero(t, et.Nanosecond())
}

func TestValidEventType(t *testing.T) {
	assert.True(t, ValidEventType(EventView))
	assert.True(t, ValidEventType(EventCart))
	assert.True(t, ValidEventType(EventPurchase))
	assert.False(t, ValidEventType("refund"))
	assert.False(t, ValidEventType(""))
	assert.False(t, ValidEventType("View"))
}

func TestEnvelopeOmitsRetryFieldsOnFirstPublish(t *testing.T) {
	env := Envelope{
		EventTime:   NewEventTime(time.Date(2026, 3, 1, 14, 30, 45, 0, time.UTC)),
		EventType:   EventView,
		ProductID:   100,
		UserSession: "sess-1",
	}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.NotContains(t, raw, "retry_count")
	assert.NotContains(t, raw, "last_error")
	assert.NotContains(t, raw, "final_error")
	assert.NotContains(t, raw, "user_id")
}
