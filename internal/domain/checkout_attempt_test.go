package domain

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckoutAttemptStatus(t *testing.T) {
	tests := []struct {
		status CheckoutAttemptStatus
		valid  bool
		final  bool
	}{
		{status: CheckoutAttemptInFlight, valid: true},
		{status: CheckoutAttemptCompleted, valid: true, final: true},
		{status: CheckoutAttemptRejected, valid: true, final: true},
		{status: CheckoutAttemptStatus("processing")},
	}

	for _, tc := range tests {
		t.Run(string(tc.status), func(t *testing.T) {
			assert.Equal(t, tc.valid, tc.status.Valid())
			assert.Equal(t, tc.final, tc.status.Final())
		})
	}
}

func TestCheckoutKeyNormalizeAndValidate(t *testing.T) {
	key := CheckoutKey{SessionID: " s-1 ", Key: "  k-1"}.Normalize()
	require.Equal(t, CheckoutKey{SessionID: "s-1", Key: "k-1"}, key)
	require.NoError(t, key.Validate())
	require.Equal(t, "s-1/k-1", key.String())

	require.ErrorIs(t, CheckoutKey{Key: "k"}.Validate(), ErrSessionRequired)
	require.ErrorIs(t, CheckoutKey{SessionID: "s"}.Validate(), ErrIdempotencyKeyRequired)
}

func TestCheckoutAttemptExpiredAndReplayable(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	attempt := CheckoutAttempt{Status: CheckoutAttemptInFlight, ExpiresAt: now}

	assert.True(t, attempt.Expired(now), "expiry moment is inclusive")
	assert.False(t, attempt.Expired(now.Add(-time.Second)))
	assert.False(t, attempt.Replayable(), "in-flight attempt has no response")

	attempt.Status = CheckoutAttemptCompleted
	assert.False(t, attempt.Replayable(), "final attempt without a body cannot be replayed")

	attempt.HTTPStatus = http.StatusCreated
	attempt.Response = []byte(`{"data":{}}`)
	assert.True(t, attempt.Replayable())
}

func TestCheckoutOutcomeStatus(t *testing.T) {
	assert.Equal(t, CheckoutAttemptCompleted, CheckoutOutcome{HTTPStatus: http.StatusCreated}.Status())
	assert.Equal(t, CheckoutAttemptRejected, CheckoutOutcome{HTTPStatus: http.StatusUnprocessableEntity}.Status())
	assert.Equal(t, CheckoutAttemptRejected, CheckoutOutcome{HTTPStatus: http.StatusInternalServerError}.Status())
}
