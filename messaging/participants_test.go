package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddygate/models"
)

func TestOtherParticipant(t *testing.T) {
	recipients := []models.Participant{
		{UserID: 1, DisplayName: "Me"},
		{UserID: 2, DisplayName: "Ann"},
	}

	other := OtherParticipant(recipients, 1)
	require.NotNil(t, other)
	assert.Equal(t, 2, other.UserID)
}

func TestOtherParticipantCallerNotInList(t *testing.T) {
	// Some backends omit the caller from the recipient list entirely.
	recipients := []models.Participant{{UserID: 2}, {UserID: 3}}

	other := OtherParticipant(recipients, 1)
	require.NotNil(t, other)
	assert.Equal(t, 2, other.UserID, "first non-self entry wins")
}

func TestOtherParticipantDegenerateThread(t *testing.T) {
	// Every entry is the caller: there is no counterparty to display.
	recipients := []models.Participant{{UserID: 1}, {UserID: 1}}
	assert.Nil(t, OtherParticipant(recipients, 1))
}

func TestOtherParticipantEmptyList(t *testing.T) {
	assert.Nil(t, OtherParticipant(nil, 1))
	assert.Nil(t, OtherParticipant([]models.Participant{}, 1))
}
