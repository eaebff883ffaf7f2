package messaging

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"buddygate/models"
	"buddygate/utils"
)

// Send delivers text to the active conversation optimistically: a
// provisional message appears in the list before any network I/O
// completes, and is either reconciled against an authoritative refetch or
// rolled back on failure. There is no automatic retry; re-sending is a
// user action.
func (s *Store) Send(ctx context.Context, text string) (*models.ChatMessage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, utils.BadRequestError("Message text is required", nil)
	}

	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, utils.BadRequestError("No conversation is open", nil)
	}
	threadID := s.active.ThreadID
	recipientID := s.active.Selection.OtherUserID
	subject := s.threadSubjectLocked(threadID)

	// Each send gets its own correlation id assigned at insertion time.
	// Rollback matches on it, so fast repeated sends can never collide
	// the way a recomputed timestamp key would.
	provisional := models.ChatMessage{
		ID:            strconv.FormatInt(time.Now().UnixMilli(), 10),
		ThreadID:      threadID,
		SenderID:      s.selfID,
		Subject:       subject,
		Body:          trimmed,
		SentAt:        time.Now(),
		State:         models.DeliveryProvisional,
		CorrelationID: uuid.NewString(),
	}
	s.active.Messages = append(s.active.Messages, provisional)
	s.draft = ""
	s.flags.Sending = true
	s.mu.Unlock()

	_, name, err := s.client.Resolve(ctx, "send-message",
		s.client.SendCandidates(threadID, recipientID, subject, trimmed))

	if err != nil {
		s.rollback(provisional.CorrelationID, trimmed)
		s.setFlag(func(f *Flags) { f.Sending = false })
		s.logger.Warn("send to thread %d failed on every candidate: %v", threadID, err)
		return nil, utils.DeliveryError("Message could not be delivered", err)
	}

	s.logger.Info("message sent to thread %d via %s", threadID, name)
	s.setFlag(func(f *Flags) { f.Sending = false })

	// The backend's read-after-write is eventually consistent, so the
	// authoritative refetch is deliberately delayed. Until it lands the
	// provisional record is the user's view of truth.
	go s.reconcileAfter(s.refetchDelay, threadID, provisional.CorrelationID)

	return &provisional, nil
}

// threadSubjectLocked returns the subject of the given thread for the
// legacy structured send payload. Callers hold mu.
func (s *Store) threadSubjectLocked(threadID int) string {
	for _, thread := range s.threads {
		if thread.ID == threadID {
			return thread.Subject
		}
	}
	return ""
}

// rollback removes the provisional message by its correlation id and
// restores the typed text so the input field can be repopulated exactly.
// A provisional message is never left stranded past a failed send.
func (s *Store) rollback(correlationID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		messages := make([]models.ChatMessage, 0, len(s.active.Messages))
		for _, m := range s.active.Messages {
			if m.CorrelationID == correlationID {
				continue
			}
			messages = append(messages, m)
		}
		s.active.Messages = messages
	}
	s.draft = text
}

// reconcileAfter waits out the consistency window, refetches the
// conversation and thread list, and settles the provisional record: if
// the authoritative fetch brought back the backend's copy the provisional
// is gone already; if the refetch failed, the provisional is promoted in
// place so the delivered message stays visible.
func (s *Store) reconcileAfter(delay time.Duration, threadID int, correlationID string) {
	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Config().Timeout()*2)
	defer cancel()

	if err := s.LoadConversation(ctx, threadID); err != nil {
		s.logger.Debug("post-send conversation refetch failed: %v", err)
	}
	if err := s.LoadThreads(ctx); err != nil {
		s.logger.Debug("post-send thread refetch failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.ThreadID != threadID {
		return
	}
	for i := range s.active.Messages {
		if s.active.Messages[i].CorrelationID == correlationID {
			s.active.Messages[i].State = models.DeliveryConfirmed
		}
	}
}
