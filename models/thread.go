package models

import "time"

// Participant is a user appearing in a message thread. When the backend
// omits user detail for a referenced id, the normalizer fills in
// placeholder values instead of dropping the participant.
type Participant struct {
	UserID      int    `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarThumb string `json:"avatar_thumb"`
	AvatarFull  string `json:"avatar_full"`
}

// Thread is a single logical 1:1 conversation, normalized from whichever
// backend shape it arrived in.
type Thread struct {
	ID           int           `json:"id"`
	LastSenderID int           `json:"last_sender_id"`
	Subject      string        `json:"subject"`
	Excerpt      string        `json:"excerpt"`
	Date         time.Time     `json:"date"`
	UnreadCount  int           `json:"unread_count"`
	Recipients   []Participant `json:"recipients"`
}

// ConversationSelection is the transient value handed to the client when
// a thread is opened: the thread plus the resolved counterparty.
type ConversationSelection struct {
	ThreadID    int          `json:"thread_id"`
	OtherUserID int          `json:"other_user_id"`
	OtherUser   *Participant `json:"other_user"`
}
