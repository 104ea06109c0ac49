package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/babyfood/internal/domain"
)

func TestDeadLetter_RoundTrip(t *testing.T) {
	t.Parallel()

	failedAt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	event := orderEvent("msg-1", domain.EventOrderCreated)

	msg, err := NewDeadLetter(event, errors.New("broker unavailable"), 3, failedAt).Message()
	require.NoError(t, err)
	assert.Equal(t, event.ID, msg.ID)
	assert.Equal(t, event.AggregateID, msg.AggregateID)

	letter, err := DecodeDeadLetter(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, "broker unavailable", letter.PublishError)
	assert.Equal(t, 3, letter.Attempts)
	assert.True(t, letter.FailedAt.Equal(failedAt))
	assert.Equal(t, time.UTC, letter.FailedAt.Location())

	original := letter.Original()
	assert.Equal(t, event.ID, original.ID)
	assert.Equal(t, event.EventType, original.EventType)
	assert.JSONEq(t, string(event.Payload), string(original.Payload))
	assert.True(t, original.CreatedAt.Equal(event.CreatedAt))
}

func TestNewDeadLetter_QuotesInvalidPayload(t *testing.T) {
	t.Parallel()

	event := orderEvent("msg-2", domain.EventOrderPaid)
	event.Payload = []byte("not json")

	letter := NewDeadLetter(event, nil, 1, workerNow)
	assert.Empty(t, letter.PublishError)
	assert.JSONEq(t, `"not json"`, string(letter.Payload))

	_, err := letter.Message()
	require.NoError(t, err)
}

func TestDecodeDeadLetter_Rejects(t *testing.T) {
	t.Parallel()

	_, err := DecodeDeadLetter([]byte("{"))
	assert.ErrorIs(t, err, ErrNotDeadLetter)

	_, err = DecodeDeadLetter([]byte(`{"outbox_id":"msg-3","event_type":"OrderPaid"}`))
	assert.ErrorIs(t, err, ErrNotDeadLetter)
}
