package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLegacyPending(t *testing.T) {
	assert.Equal(t, StatusUploaded, StatusPending.Normalize())
	assert.Equal(t, StatusReviewing, StatusReviewing.Normalize())
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusUploaded, StatusProcessing, true},
		{StatusProcessing, StatusReviewing, true},
		{StatusProcessing, StatusConfirmed, true},
		{StatusProcessing, StatusUploaded, true},
		{StatusReviewing, StatusConfirmed, true},
		{StatusReviewing, StatusProcessing, true},
		{StatusConfirmed, StatusReimbursed, true},
		{StatusConfirmed, StatusNotReimbursed, true},
		{StatusConfirmed, StatusProcessing, true},

		{StatusUploaded, StatusReviewing, false},
		{StatusUploaded, StatusConfirmed, false},
		{StatusReviewing, StatusReimbursed, false},
		{StatusReimbursed, StatusProcessing, false},
		{StatusNotReimbursed, StatusConfirmed, false},
		{StatusConfirmed, StatusUploaded, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPendingTransitionsLikeUploaded(t *testing.T) {
	assert.True(t, StatusPending.CanTransition(StatusProcessing))
	assert.False(t, StatusPending.CanTransition(StatusConfirmed))
}
