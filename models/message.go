package models

import "time"

// DeliveryState tracks the lifecycle of a message that originated locally.
// Messages fetched from the backend are always Confirmed.
type DeliveryState string

const (
	// DeliveryConfirmed means the backend is the source of this record.
	DeliveryConfirmed DeliveryState = "confirmed"
	// DeliveryProvisional means the record was fabricated locally for an
	// optimistic send and has not yet been superseded by a refetch.
	DeliveryProvisional DeliveryState = "provisional"
)

// ChatMessage is one message within a conversation. Body is plain text:
// HTML is stripped at the normalization boundary, so consumers never see
// markup.
type ChatMessage struct {
	ID       string        `json:"id"`
	ThreadID int           `json:"thread_id"`
	SenderID int           `json:"sender_id"`
	Subject  string        `json:"subject"`
	Body     string        `json:"body"`
	SentAt   time.Time     `json:"sent_at"`
	Starred  bool          `json:"is_starred"`
	State    DeliveryState `json:"state"`

	// CorrelationID is set only on provisional messages. Rollback after a
	// failed send matches on this id, never on a recomputed timestamp.
	CorrelationID string `json:"-"`
}
