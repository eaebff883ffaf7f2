package messaging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"buddygate/models"
	"buddygate/utils"
)

// listShape tags the decoded thread-list payload. Every raw shape the two
// backends produce is resolved to one of these exactly once, here, so the
// rest of the system only ever sees canonical Thread/ChatMessage values.
type listShape int

const (
	shapeUnknown listShape = iota
	// shapeModern is the Better Messages envelope:
	// {threads:[...], users:[...], messages:[...]}
	shapeModern
	// shapeLegacyArray is a bare array of thread-like objects from the
	// BuddyPress messages index.
	shapeLegacyArray
	// shapeLegacyData is the same array wrapped as {data:[...]}.
	shapeLegacyData
)

// rawList is the decoded, still-untyped thread-list payload.
type rawList struct {
	shape    listShape
	threads  []map[string]interface{}
	users    []map[string]interface{}
	messages []map[string]interface{}
}

// decodeList detects the payload shape. Unknown shapes decode to an empty
// list rather than an error: the caller shows an empty state.
func decodeList(body []byte) rawList {
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(body, &asObject); err == nil {
		if raw, ok := asObject["threads"]; ok {
			return rawList{
				shape:    shapeModern,
				threads:  decodeObjects(raw),
				users:    decodeObjects(asObject["users"]),
				messages: decodeObjects(asObject["messages"]),
			}
		}
		if raw, ok := asObject["data"]; ok {
			return rawList{shape: shapeLegacyData, threads: decodeObjects(raw)}
		}
		return rawList{shape: shapeUnknown}
	}

	var asArray []map[string]interface{}
	if err := json.Unmarshal(body, &asArray); err == nil {
		return rawList{shape: shapeLegacyArray, threads: asArray}
	}

	return rawList{shape: shapeUnknown}
}

func decodeObjects(raw json.RawMessage) []map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var objects []map[string]interface{}
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil
	}
	return objects
}

// --- tolerant field extraction ---

// intField reads the first present key as an integer, accepting numbers
// and numeric strings.
func intField(obj map[string]interface{}, keys ...string) (int, bool) {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			return int(v), true
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n, true
			}
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return int(n), true
			}
		}
	}
	return 0, false
}

// stringField reads the first present key as a string. WordPress wraps
// rendered content as {"rendered": "..."}; that shape is unwrapped here.
func stringField(obj map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			return v, true
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), true
		case map[string]interface{}:
			if rendered, ok := v["rendered"].(string); ok {
				return rendered, true
			}
		}
	}
	return "", false
}

func boolField(obj map[string]interface{}, keys ...string) bool {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case string:
			return v == "1" || v == "true"
		}
	}
	return false
}

// idField canonicalizes a message id to its decimal string form so that
// a numeric 7 and a string "7" collapse to the same logical id.
func idField(obj map[string]interface{}, keys ...string) (string, bool) {
	for _, key := range keys {
		value, ok := obj[key]
		if !ok || value == nil {
			continue
		}
		switch v := value.(type) {
		case float64:
			return strconv.FormatInt(int64(v), 10), true
		case string:
			trimmed := strings.TrimSpace(v)
			if trimmed == "" {
				continue
			}
			if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return strconv.FormatInt(n, 10), true
			}
			return trimmed, true
		}
	}
	return "", false
}

// msEpochThreshold separates second-precision epochs from millisecond
// ones: anything above it is already milliseconds.
const msEpochThreshold = 1e12

// parseTimestamp accepts a numeric or numeric-string epoch in seconds or
// milliseconds, or a textual date in the formats WordPress emits. On any
// parse failure it substitutes the current time rather than erroring.
func parseTimestamp(value interface{}) time.Time {
	switch v := value.(type) {
	case float64:
		return epochToTime(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return time.Now()
		}
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return epochToTime(n)
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, trimmed); err == nil {
				return t
			}
		}
		return time.Now()
	case json.Number:
		if n, err := v.Float64(); err == nil {
			return epochToTime(n)
		}
		return time.Now()
	default:
		return time.Now()
	}
}

func epochToTime(n float64) time.Time {
	if n <= 0 {
		return time.Now()
	}
	if n > msEpochThreshold {
		return time.UnixMilli(int64(n))
	}
	return time.Unix(int64(n), 0)
}

func timestampField(obj map[string]interface{}, keys ...string) (time.Time, bool) {
	for _, key := range keys {
		if value, ok := obj[key]; ok && value != nil {
			return parseTimestamp(value), true
		}
	}
	return time.Time{}, false
}

// --- normalizer ---

// UserLookup resolves a referenced user id to participant detail, or nil
// when the backend has nothing. The normalizer synthesizes placeholders
// on nil so a thread never fails to normalize over missing user data.
type UserLookup func(userID int) *models.Participant

// Normalizer converts raw backend payloads into canonical records.
type Normalizer struct {
	selfID int
	lookup UserLookup
}

// NewNormalizer creates a normalizer for the given caller identity. The
// lookup may be nil, in which case every unknown user gets a placeholder.
func NewNormalizer(selfID int, lookup UserLookup) *Normalizer {
	return &Normalizer{selfID: selfID, lookup: lookup}
}

// PlaceholderParticipant synthesizes participant detail for an id the
// backend referenced but never described.
func PlaceholderParticipant(userID int) models.Participant {
	return models.Participant{
		UserID:      userID,
		DisplayName: fmt.Sprintf("User %d", userID),
		AvatarThumb: "/assets/avatar-placeholder.png",
		AvatarFull:  "/assets/avatar-placeholder.png",
	}
}

// NormalizeThreads converts a raw thread-list response body, in any of
// the known shapes, into canonical threads sorted most recent first.
func (n *Normalizer) NormalizeThreads(body []byte) []models.Thread {
	list := decodeList(body)

	var threads []models.Thread
	switch list.shape {
	case shapeModern:
		threads = n.normalizeModern(list)
	case shapeLegacyArray, shapeLegacyData:
		threads = n.normalizeLegacy(list.threads)
	default:
		return nil
	}

	// Stable: equal dates preserve relative input order.
	sort.SliceStable(threads, func(i, j int) bool {
		return threads[i].Date.After(threads[j].Date)
	})

	if list.shape != shapeModern {
		threads = n.groupByCounterparty(threads)
	}
	return threads
}

func (n *Normalizer) normalizeModern(list rawList) []models.Thread {
	userIndex := buildUserIndex(list.users)

	threads := make([]models.Thread, 0, len(list.threads))
	for _, raw := range list.threads {
		threadID, ok := intField(raw, "thread_id", "id")
		if !ok {
			continue
		}

		thread := models.Thread{
			ID:          threadID,
			Subject:     utils.StripHTML(firstString(raw, "Conversation", "subject", "title")),
			UnreadCount: maxInt(0, firstInt(raw, 0, "unread_count", "unread")),
		}
		if sender, ok := intField(raw, "last_sender_id", "sender_id"); ok {
			thread.LastSenderID = sender
		}

		// The representative excerpt/date is the newest message belonging
		// to this thread; the thread's own fields are the fallback.
		if latest, ok := latestMessageFor(list.messages, threadID); ok {
			thread.Excerpt = utils.Excerpt(firstString(latest, "", "message", "content", "text"), 120)
			if when, ok := timestampField(latest, "created_at", "createdAt", "date_sent", "date"); ok {
				thread.Date = when
			}
			if sender, ok := intField(latest, "sender_id", "user_id"); ok {
				thread.LastSenderID = sender
			}
		}
		if thread.Excerpt == "" {
			thread.Excerpt = utils.Excerpt(firstString(raw, "", "excerpt", "message", "last_message"), 120)
		}
		if thread.Date.IsZero() {
			if when, ok := timestampField(raw, "lastTime", "last_time", "date", "date_gmt"); ok {
				thread.Date = when
			} else {
				thread.Date = time.Now()
			}
		}

		thread.Recipients = n.resolveRecipients(raw, userIndex)
		threads = append(threads, thread)
	}
	return threads
}

func (n *Normalizer) normalizeLegacy(rawThreads []map[string]interface{}) []models.Thread {
	threads := make([]models.Thread, 0, len(rawThreads))
	for _, raw := range rawThreads {
		threadID, ok := intField(raw, "id", "thread_id")
		if !ok {
			continue
		}

		thread := models.Thread{
			ID:          threadID,
			Subject:     utils.StripHTML(firstString(raw, "Conversation", "subject")),
			Excerpt:     utils.Excerpt(firstString(raw, "", "excerpt", "message"), 120),
			UnreadCount: maxInt(0, firstInt(raw, 0, "unread_count")),
		}
		if sender, ok := intField(raw, "last_sender_id", "sender_id"); ok {
			thread.LastSenderID = sender
		}
		if when, ok := timestampField(raw, "date", "last_message_date", "date_gmt"); ok {
			thread.Date = when
		} else {
			thread.Date = time.Now()
		}

		thread.Recipients = n.resolveRecipients(raw, nil)
		threads = append(threads, thread)
	}
	return threads
}

// resolveRecipients builds the participant list from whichever of the
// observed shapes the thread carries: a participants id list, an array of
// recipient objects, or a map keyed by user id. A thread with zero
// resolvable participants is still emitted.
func (n *Normalizer) resolveRecipients(raw map[string]interface{}, userIndex map[int]models.Participant) []models.Participant {
	var recipients []models.Participant

	appendID := func(userID int) {
		recipients = append(recipients, n.participantFor(userID, userIndex))
	}
	appendObject := func(obj map[string]interface{}) {
		userID, ok := intField(obj, "user_id", "id")
		if !ok {
			return
		}
		participant := n.participantFor(userID, userIndex)
		if name, ok := stringField(obj, "name", "display_name", "user_login"); ok && name != "" {
			participant.DisplayName = utils.StripHTML(name)
		}
		if avatars, ok := obj["avatar_urls"].(map[string]interface{}); ok {
			if thumb, ok := avatars["thumb"].(string); ok {
				participant.AvatarThumb = thumb
			}
			if full, ok := avatars["full"].(string); ok {
				participant.AvatarFull = full
			}
		}
		recipients = append(recipients, participant)
	}

	for _, key := range []string{"participants", "recipients"} {
		switch value := raw[key].(type) {
		case []interface{}:
			for _, entry := range value {
				switch e := entry.(type) {
				case float64:
					appendID(int(e))
				case string:
					if id, err := strconv.Atoi(strings.TrimSpace(e)); err == nil {
						appendID(id)
					}
				case map[string]interface{}:
					appendObject(e)
				}
			}
		case map[string]interface{}:
			for _, entry := range value {
				if obj, ok := entry.(map[string]interface{}); ok {
					appendObject(obj)
				}
			}
		}
		if len(recipients) > 0 {
			break
		}
	}
	return recipients
}

func (n *Normalizer) participantFor(userID int, userIndex map[int]models.Participant) models.Participant {
	if p, ok := userIndex[userID]; ok {
		return p
	}
	if n.lookup != nil {
		if p := n.lookup(userID); p != nil {
			return *p
		}
	}
	return PlaceholderParticipant(userID)
}

// groupByCounterparty collapses multiple threads that resolve to the same
// counterparty into the single most-recently-active one. The two backends
// can each report their own thread for the same pair of users; dedup is
// by the other user's identity, not by raw thread id. Input is already
// sorted most recent first. Threads without a resolvable counterparty
// pass through untouched.
func (n *Normalizer) groupByCounterparty(threads []models.Thread) []models.Thread {
	seen := make(map[int]bool, len(threads))
	grouped := threads[:0:0]
	for _, thread := range threads {
		other := OtherParticipant(thread.Recipients, n.selfID)
		if other == nil {
			grouped = append(grouped, thread)
			continue
		}
		if seen[other.UserID] {
			continue
		}
		seen[other.UserID] = true
		grouped = append(grouped, thread)
	}
	return grouped
}

// NormalizeMessage converts one raw message object from either API into a
// canonical ChatMessage. indexInBatch feeds the synthesized id fallback.
func (n *Normalizer) NormalizeMessage(raw map[string]interface{}, threadID, indexInBatch int) models.ChatMessage {
	id, ok := idField(raw, "message_id", "id")
	if !ok {
		id = fmt.Sprintf("%d_%d", threadID, indexInBatch)
	}

	message := models.ChatMessage{
		ID:       id,
		ThreadID: threadID,
		Subject:  utils.StripHTML(firstString(raw, "", "subject")),
		Body:     utils.StripHTML(firstString(raw, "", "message", "content", "text")),
		Starred:  boolField(raw, "is_starred", "starred"),
		State:    models.DeliveryConfirmed,
	}
	if sender, ok := intField(raw, "sender_id", "user_id", "author"); ok {
		message.SenderID = sender
	}
	if when, ok := timestampField(raw, "created_at", "createdAt", "date_sent", "date"); ok {
		message.SentAt = when
	} else {
		message.SentAt = time.Now()
	}
	return message
}

// NormalizeMessages extracts every message for the thread from a raw
// conversation response body, sorted ascending by send time and unique by
// id. Bodies may be an envelope, a bare array, or a single thread object
// with embedded messages.
func (n *Normalizer) NormalizeMessages(body []byte, threadID int) []models.ChatMessage {
	return n.FilterMessages(extractMessageObjects(body), threadID)
}

// FilterMessages normalizes raw message objects that belong to the given
// thread, enforcing the conversation invariants: ascending by SentAt,
// unique by id. Records without a thread id are assumed to belong to the
// requested thread (per-thread endpoints often omit it).
func (n *Normalizer) FilterMessages(rawMessages []map[string]interface{}, threadID int) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(rawMessages))
	seen := make(map[string]bool, len(rawMessages))
	for i, raw := range rawMessages {
		if owner, ok := intField(raw, "thread_id", "threadId"); ok && owner != threadID {
			continue
		}
		message := n.NormalizeMessage(raw, threadID, i)
		if seen[message.ID] {
			continue
		}
		seen[message.ID] = true
		messages = append(messages, message)
	}

	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt.Before(messages[j].SentAt)
	})
	return messages
}

// extractMessageObjects digs raw message objects out of whichever
// envelope the conversation endpoint used.
func extractMessageObjects(body []byte) []map[string]interface{} {
	var asObject map[string]json.RawMessage
	if err := json.Unmarshal(body, &asObject); err == nil {
		for _, key := range []string{"messages", "data"} {
			if objects := decodeObjects(asObject[key]); objects != nil {
				return objects
			}
		}
		// A single thread object: either it embeds messages under a
		// different casing, or the object itself is one message.
		var single map[string]interface{}
		if err := json.Unmarshal(body, &single); err == nil {
			if _, ok := single["message"]; ok {
				return []map[string]interface{}{single}
			}
			if _, ok := single["content"]; ok {
				return []map[string]interface{}{single}
			}
		}
		return nil
	}

	var asArray []map[string]interface{}
	if err := json.Unmarshal(body, &asArray); err == nil {
		return asArray
	}
	return nil
}

// RawListMessages exposes the modern envelope's global message array so
// the store can fall back to filtering it when every per-thread endpoint
// fails.
func RawListMessages(body []byte) []map[string]interface{} {
	list := decodeList(body)
	return list.messages
}

// --- small helpers ---

func buildUserIndex(users []map[string]interface{}) map[int]models.Participant {
	index := make(map[int]models.Participant, len(users))
	for _, raw := range users {
		userID, ok := intField(raw, "user_id", "id")
		if !ok {
			continue
		}
		participant := PlaceholderParticipant(userID)
		if name, ok := stringField(raw, "name", "display_name", "user_login"); ok && name != "" {
			participant.DisplayName = utils.StripHTML(name)
		}
		if avatar, ok := stringField(raw, "avatar", "avatar_thumb"); ok && avatar != "" {
			participant.AvatarThumb = avatar
			participant.AvatarFull = avatar
		}
		if full, ok := stringField(raw, "avatar_full"); ok && full != "" {
			participant.AvatarFull = full
		}
		index[userID] = participant
	}
	return index
}

func latestMessageFor(messages []map[string]interface{}, threadID int) (map[string]interface{}, bool) {
	var latest map[string]interface{}
	var latestAt time.Time
	for _, raw := range messages {
		owner, ok := intField(raw, "thread_id", "threadId")
		if !ok || owner != threadID {
			continue
		}
		when, ok := timestampField(raw, "created_at", "createdAt", "date_sent", "date")
		if !ok {
			when = time.Now()
		}
		if latest == nil || when.After(latestAt) {
			latest = raw
			latestAt = when
		}
	}
	return latest, latest != nil
}

func firstString(obj map[string]interface{}, fallback string, keys ...string) string {
	if s, ok := stringField(obj, keys...); ok {
		return s
	}
	return fallback
}

func firstInt(obj map[string]interface{}, fallback int, keys ...string) int {
	if n, ok := intField(obj, keys...); ok {
		return n
	}
	return fallback
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
