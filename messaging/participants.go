package messaging

import "buddygate/models"

// OtherParticipant returns the counterparty of a 1:1 conversation: the
// first recipient whose id differs from selfID. It returns nil when the
// list is empty or every entry is the caller; callers must treat nil as
// "cannot display this thread" and skip it rather than crash.
//
// Conversations are modeled as exactly two parties, so a linear scan is
// all the resolution this needs.
func OtherParticipant(recipients []models.Participant, selfID int) *models.Participant {
	for i := range recipients {
		if recipients[i].UserID != selfID {
			return &recipients[i]
		}
	}
	return nil
}
