package messaging

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"buddygate/models"
	"buddygate/utils"
	"buddygate/wordpress"
)

// Flags are the explicit loading indicators the client renders instead of
// blocking. They only ever change as part of a whole-state commit.
type Flags struct {
	Loading     bool `json:"loading"`
	ChatLoading bool `json:"chat_loading"`
	Sending     bool `json:"sending"`
	Refreshing  bool `json:"refreshing"`
}

// ActiveConversation is the currently open conversation view.
type ActiveConversation struct {
	ThreadID  int                          `json:"thread_id"`
	Selection models.ConversationSelection `json:"selection"`
	Messages  []models.ChatMessage         `json:"messages"`
}

// Store holds one user's conversation state: the thread list, the active
// conversation, search state and pending-send state. Every operation
// computes its full next state before committing it under the lock, so
// the renderer never observes a partial update.
type Store struct {
	mu         sync.Mutex
	selfID     int
	client     *wordpress.Client
	normalizer *Normalizer
	logger     *utils.Logger

	refetchDelay time.Duration

	threads  []models.Thread
	filtered []models.Thread
	search   string
	active   *ActiveConversation

	// listMessages is the modern envelope's global message array from the
	// last list fetch, kept as the next-to-last conversation fallback.
	listMessages []map[string]interface{}

	// draft holds the text of a failed send so the client can restore the
	// input field exactly.
	draft string

	flags Flags
}

// NewStore creates a conversation store for the given authenticated user.
func NewStore(selfID int, client *wordpress.Client, lookup UserLookup, refetchDelay time.Duration) *Store {
	return &Store{
		selfID:       selfID,
		client:       client,
		normalizer:   NewNormalizer(selfID, lookup),
		logger:       utils.Log.WithField("user_id", selfID),
		refetchDelay: refetchDelay,
	}
}

// SelfID returns the caller's user id.
func (s *Store) SelfID() int {
	return s.selfID
}

// Snapshot is an immutable copy of the store state for rendering.
type Snapshot struct {
	Threads  []models.Thread     `json:"threads"`
	Filtered []models.Thread     `json:"filtered_threads"`
	Search   string              `json:"search_query"`
	Active   *ActiveConversation `json:"active_conversation,omitempty"`
	Draft    string              `json:"draft"`
	Flags    Flags               `json:"flags"`
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Threads:  append([]models.Thread(nil), s.threads...),
		Filtered: append([]models.Thread(nil), s.filtered...),
		Search:   s.search,
		Draft:    s.draft,
		Flags:    s.flags,
	}
	if s.active != nil {
		active := *s.active
		active.Messages = append([]models.ChatMessage(nil), s.active.Messages...)
		snap.Active = &active
	}
	return snap
}

// LoadThreads fetches and replaces the thread list wholesale. Exhausting
// every list endpoint is not an error: the list becomes empty so the
// client shows an empty state and browsing stays usable.
func (s *Store) LoadThreads(ctx context.Context) error {
	if !s.client.HasToken() {
		return utils.UnauthorizedError("No session token", nil)
	}

	s.setFlag(func(f *Flags) { f.Loading = true })
	defer s.setFlag(func(f *Flags) { f.Loading = false })

	body, _, err := s.client.Resolve(ctx, "list-threads", s.client.ListThreadCandidates())
	if err != nil {
		if errors.Is(err, wordpress.ErrExhausted) {
			s.logger.Warn("thread list exhausted all endpoints, showing empty list")
			body = nil
		} else {
			return err
		}
	}

	var threads []models.Thread
	var listMessages []map[string]interface{}
	if body != nil {
		threads = s.normalizer.NormalizeThreads(body)
		listMessages = RawListMessages(body)
	}

	s.mu.Lock()
	s.threads = threads
	s.listMessages = listMessages
	s.applyFilterLocked()
	s.mu.Unlock()
	return nil
}

// SetSearch updates the search query and recomputes the filtered view
// synchronously. The filter is never patched incrementally.
func (s *Store) SetSearch(query string) {
	s.mu.Lock()
	s.search = query
	s.applyFilterLocked()
	s.mu.Unlock()
}

// applyFilterLocked recomputes filtered from threads. Callers hold mu.
// Matching is a case-insensitive substring test over the counterparty
// name, the excerpt and the subject.
func (s *Store) applyFilterLocked() {
	if strings.TrimSpace(s.search) == "" {
		s.filtered = append([]models.Thread(nil), s.threads...)
		return
	}

	needle := strings.ToLower(strings.TrimSpace(s.search))
	filtered := make([]models.Thread, 0, len(s.threads))
	for _, thread := range s.threads {
		var otherName string
		if other := OtherParticipant(thread.Recipients, s.selfID); other != nil {
			otherName = other.DisplayName
		}
		if strings.Contains(strings.ToLower(otherName), needle) ||
			strings.Contains(strings.ToLower(thread.Excerpt), needle) ||
			strings.Contains(strings.ToLower(thread.Subject), needle) {
			filtered = append(filtered, thread)
		}
	}
	s.filtered = filtered
}

// OpenConversation makes threadID the active conversation, resolves its
// counterparty and loads its messages.
func (s *Store) OpenConversation(ctx context.Context, threadID int) (*models.ConversationSelection, error) {
	selection := models.ConversationSelection{ThreadID: threadID}

	s.mu.Lock()
	for _, thread := range s.threads {
		if thread.ID != threadID {
			continue
		}
		other := OtherParticipant(thread.Recipients, s.selfID)
		if other == nil {
			// Degenerate thread with no counterparty: nothing to render.
			s.mu.Unlock()
			return nil, utils.NotFoundError("Conversation has no counterparty", nil)
		}
		selection.OtherUserID = other.UserID
		selection.OtherUser = other
		break
	}
	s.active = &ActiveConversation{
		ThreadID:  threadID,
		Selection: selection,
		Messages:  []models.ChatMessage{},
	}
	s.draft = ""
	s.mu.Unlock()

	if err := s.LoadConversation(ctx, threadID); err != nil {
		return nil, err
	}
	return &selection, nil
}

// CloseConversation discards the active conversation. In-flight responses
// for it will be dropped by the thread-id check rather than cancelled.
func (s *Store) CloseConversation() {
	s.mu.Lock()
	s.active = nil
	s.draft = ""
	s.mu.Unlock()
}

// LoadConversation fetches the messages for threadID, walking the full
// fallback ladder: every modern per-thread endpoint in order, then the
// global message array captured with the thread list, then the legacy
// endpoints. The first source that yields at least one message wins.
func (s *Store) LoadConversation(ctx context.Context, threadID int) error {
	s.mu.Lock()
	if s.active == nil || s.active.ThreadID != threadID {
		s.mu.Unlock()
		return nil
	}
	s.flags.ChatLoading = true
	listMessages := s.listMessages
	s.mu.Unlock()
	defer s.setFlag(func(f *Flags) { f.ChatLoading = false })

	messages := s.fetchConversation(ctx, threadID, listMessages)

	s.commitConversation(threadID, messages)
	return nil
}

func (s *Store) fetchConversation(ctx context.Context, threadID int, listMessages []map[string]interface{}) []models.ChatMessage {
	// Candidates are tried strictly sequentially so "first success wins"
	// stays deterministic.
	body, name, err := s.client.Resolve(ctx, "fetch-conversation", s.client.ModernConversationCandidates(threadID))
	if err == nil {
		if messages := s.normalizer.NormalizeMessages(body, threadID); len(messages) > 0 {
			s.logger.Debug("conversation %d loaded via %s: %d messages", threadID, name, len(messages))
			return messages
		}
	}

	if messages := s.normalizer.FilterMessages(listMessages, threadID); len(messages) > 0 {
		s.logger.Debug("conversation %d loaded from list payload: %d messages", threadID, len(messages))
		return messages
	}

	body, name, err = s.client.Resolve(ctx, "fetch-conversation-legacy", s.client.LegacyConversationCandidates(threadID))
	if err == nil {
		if messages := s.normalizer.NormalizeMessages(body, threadID); len(messages) > 0 {
			s.logger.Debug("conversation %d loaded via %s: %d messages", threadID, name, len(messages))
			return messages
		}
	}

	s.logger.Warn("conversation %d yielded no messages from any source", threadID)
	return []models.ChatMessage{}
}

// commitConversation replaces the active message list if the response's
// thread still matches the open conversation; stale responses are
// dropped. Provisional messages not yet reconciled survive the replace so
// a refresh can never hide an optimistic send in flight.
func (s *Store) commitConversation(threadID int, messages []models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.ThreadID != threadID {
		s.logger.Debug("dropping stale conversation response for thread %d", threadID)
		return
	}

	for _, existing := range s.active.Messages {
		if existing.State != models.DeliveryProvisional {
			continue
		}
		if containsAuthoritative(messages, existing) {
			continue
		}
		messages = append(messages, existing)
	}

	s.active.Messages = dedupAndSort(messages)
}

// sentAtSkew tolerates clock drift between the gateway and the backend
// when matching a fetched message against a provisional one.
const sentAtSkew = 30 * time.Second

// containsAuthoritative reports whether the fetched list already includes
// the backend's copy of a provisional message: same sender, same body,
// confirmed state, and not sent measurably before the provisional was.
// The time bound keeps an identical message from earlier history from
// being mistaken for the supersession.
func containsAuthoritative(messages []models.ChatMessage, provisional models.ChatMessage) bool {
	cutoff := provisional.SentAt.Add(-sentAtSkew)
	for _, m := range messages {
		if m.State == models.DeliveryConfirmed &&
			m.SenderID == provisional.SenderID &&
			m.Body == provisional.Body &&
			!m.SentAt.Before(cutoff) {
			return true
		}
	}
	return false
}

func dedupAndSort(messages []models.ChatMessage) []models.ChatMessage {
	seen := make(map[string]bool, len(messages))
	out := messages[:0:0]
	for _, m := range messages {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.Before(out[j].SentAt)
	})
	return out
}

// Refresh reloads both the active conversation and the thread list, used
// by pull-to-refresh and by the post-send reconciliation.
func (s *Store) Refresh(ctx context.Context) error {
	s.setFlag(func(f *Flags) { f.Refreshing = true })
	defer s.setFlag(func(f *Flags) { f.Refreshing = false })

	s.mu.Lock()
	var threadID int
	if s.active != nil {
		threadID = s.active.ThreadID
	}
	s.mu.Unlock()

	if threadID != 0 {
		if err := s.LoadConversation(ctx, threadID); err != nil {
			return err
		}
	}
	return s.LoadThreads(ctx)
}

// MarkRead clears a thread's unread count locally and tells the backend,
// best effort: an upstream failure does not undo the local clear.
func (s *Store) MarkRead(ctx context.Context, threadID int) {
	if _, _, err := s.client.Resolve(ctx, "mark-read", s.client.MarkReadCandidates(threadID)); err != nil {
		s.logger.Debug("mark-read for thread %d failed upstream: %v", threadID, err)
	}

	s.mu.Lock()
	threads := append([]models.Thread(nil), s.threads...)
	for i := range threads {
		if threads[i].ID == threadID {
			threads[i].UnreadCount = 0
		}
	}
	s.threads = threads
	s.applyFilterLocked()
	s.mu.Unlock()
}

// SetStarred toggles the star on a message in the active conversation and
// forwards the change upstream.
func (s *Store) SetStarred(ctx context.Context, messageID string, starred bool) error {
	if _, _, err := s.client.Resolve(ctx, "star-message", s.client.StarCandidates(messageID, starred)); err != nil {
		return utils.NotFoundError("Message could not be starred", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	messages := append([]models.ChatMessage(nil), s.active.Messages...)
	for i := range messages {
		if messages[i].ID == messageID {
			messages[i].Starred = starred
		}
	}
	s.active.Messages = messages
	return nil
}

// Draft returns the restored input text of the last failed send.
func (s *Store) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

func (s *Store) setFlag(mutate func(*Flags)) {
	s.mu.Lock()
	mutate(&s.flags)
	s.mu.Unlock()
}
