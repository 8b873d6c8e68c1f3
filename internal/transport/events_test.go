package transport

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/partyware/go-partysync/internal/types"
)

func TestNewEvent(t *testing.T) {
	evt, err := NewEvent(EventPartyCreating, "c1", PartyPayload{
		Party: types.Party{Id: "p1", Title: "rooftop"},
	})
	assert.NoError(t, err, "expected event to build")
	assert.Equal(t, EventPartyCreating, evt.Name, "expected the event name")
	assert.Equal(t, "c1", evt.CorrelationId, "expected the correlation id")
	assert.False(t, evt.Timestamp.IsZero(), "expected a timestamp")

	var pl PartyPayload
	assert.NoError(t, evt.Decode(&pl), "expected the payload to decode")
	assert.Equal(t, "rooftop", pl.Party.Title, "expected the payload round trip")
}

func TestEventOmitsEmptyCorrelationId(t *testing.T) {
	evt, err := NewEvent(EventTyping, "", TypingPayload{UserId: 1, PeerId: 2})
	assert.NoError(t, err, "expected event to build")

	raw, err := json.Marshal(evt)
	assert.NoError(t, err, "expected event to marshal")
	assert.NotContains(t, string(raw), "correlation_id",
		"expected fire-and-forget events to omit the correlation id")
}

func TestPendingMarkersNeverSerialize(t *testing.T) {
	raw, err := json.Marshal(types.Applicant{
		Id: "a1", Pending: true, CorrelationId: "c1",
	})
	assert.NoError(t, err, "expected applicant to marshal")
	assert.NotContains(t, string(raw), "c1", "expected the correlation id to stay local")
	assert.NotContains(t, string(raw), "Pending", "expected the pending marker to stay local")
}
