package messaging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddygate/models"
)

func TestNormalizeThreadsModernEnvelope(t *testing.T) {
	// The modern envelope: thread detail comes from the newest matching
	// message, user detail from the users array.
	body := []byte(`{
		"threads": [{"thread_id": 5, "participants": [1, 2], "lastTime": 1700000000000}],
		"users": [{"user_id": 2, "name": "Ann"}],
		"messages": [{"thread_id": 5, "sender_id": 2, "message": "hi", "created_at": 1700000000000}]
	}`)

	n := NewNormalizer(1, nil)
	threads := n.NormalizeThreads(body)

	require.Len(t, threads, 1)
	thread := threads[0]
	assert.Equal(t, 5, thread.ID)
	assert.Equal(t, "hi", thread.Excerpt)
	assert.Equal(t, 2, thread.LastSenderID)
	assert.Equal(t, time.UnixMilli(1700000000000).Unix(), thread.Date.Unix())

	other := OtherParticipant(thread.Recipients, 1)
	require.NotNil(t, other)
	assert.Equal(t, 2, other.UserID)
	assert.Equal(t, "Ann", other.DisplayName)
}

func TestNormalizeThreadsPicksNewestMessage(t *testing.T) {
	body := []byte(`{
		"threads": [{"thread_id": 5, "participants": [1, 2]}],
		"users": [],
		"messages": [
			{"thread_id": 5, "sender_id": 1, "message": "older", "created_at": 1600000000},
			{"thread_id": 5, "sender_id": 2, "message": "newest", "created_at": 1700000000},
			{"thread_id": 6, "sender_id": 2, "message": "other thread", "created_at": 1800000000}
		]
	}`)

	threads := NewNormalizer(1, nil).NormalizeThreads(body)
	require.Len(t, threads, 1)
	assert.Equal(t, "newest", threads[0].Excerpt)
	assert.Equal(t, 2, threads[0].LastSenderID)
}

func TestNormalizeThreadsPlaceholderParticipants(t *testing.T) {
	// User 9 is referenced but never described; normalization must not
	// throw and must synthesize detail.
	body := []byte(`{
		"threads": [{"thread_id": 3, "participants": [1, 9]}],
		"users": [],
		"messages": []
	}`)

	threads := NewNormalizer(1, nil).NormalizeThreads(body)
	require.Len(t, threads, 1)

	other := OtherParticipant(threads[0].Recipients, 1)
	require.NotNil(t, other)
	assert.Equal(t, 9, other.UserID)
	assert.Equal(t, "User 9", other.DisplayName)
	assert.NotEmpty(t, other.AvatarThumb)
}

func TestNormalizeThreadsLegacyArray(t *testing.T) {
	body := []byte(`[
		{"id": 11, "subject": "Hello", "excerpt": "<p>strip me</p>", "unread_count": 2,
		 "date": "2023-10-05T12:00:00", "recipients": [{"user_id": 1}, {"user_id": 4, "name": "Bea"}]},
		{"id": 12, "message": "raw", "date": "2023-10-04 09:30:00",
		 "recipients": [{"user_id": 1}, {"user_id": 7}]}
	]`)

	threads := NewNormalizer(1, nil).NormalizeThreads(body)
	require.Len(t, threads, 2)

	assert.Equal(t, 11, threads[0].ID)
	assert.Equal(t, "strip me", threads[0].Excerpt)
	assert.Equal(t, 2, threads[0].UnreadCount)
	assert.Equal(t, "Bea", OtherParticipant(threads[0].Recipients, 1).DisplayName)
	assert.Equal(t, "User 7", OtherParticipant(threads[1].Recipients, 1).DisplayName)
}

func TestNormalizeThreadsGroupsLegacyByCounterparty(t *testing.T) {
	// Two raw threads against the same counterparty collapse into the
	// most recently active one.
	body := []byte(`[
		{"id": 21, "message": "old", "date": 1600000000,
		 "recipients": [{"user_id": 1}, {"user_id": 4}]},
		{"id": 22, "message": "new", "date": 1700000000,
		 "recipients": [{"user_id": 1}, {"user_id": 4}]},
		{"id": 23, "message": "unrelated", "date": 1650000000,
		 "recipients": [{"user_id": 1}, {"user_id": 5}]}
	]`)

	threads := NewNormalizer(1, nil).NormalizeThreads(body)
	require.Len(t, threads, 2)
	assert.Equal(t, 22, threads[0].ID)
	assert.Equal(t, 23, threads[1].ID)
}

func TestNormalizeThreadsModernSkipsGrouping(t *testing.T) {
	// The modern backend already returns one thread per counterparty;
	// grouping only applies to the legacy shape.
	body := []byte(`{
		"threads": [
			{"thread_id": 31, "participants": [1, 4], "lastTime": 1700000001},
			{"thread_id": 32, "participants": [1, 4], "lastTime": 1700000000}
		],
		"users": [],
		"messages": []
	}`)

	threads := NewNormalizer(1, nil).NormalizeThreads(body)
	assert.Len(t, threads, 2)
}

func TestNormalizeThreadsUnknownShape(t *testing.T) {
	assert.Nil(t, NewNormalizer(1, nil).NormalizeThreads([]byte(`{"status": "ok"}`)))
	assert.Nil(t, NewNormalizer(1, nil).NormalizeThreads([]byte(`garbage`)))
}

func TestNormalizeThreadsSortedDescendingStable(t *testing.T) {
	body := []byte(`[
		{"id": 1, "date": 1600000000, "recipients": [{"user_id": 2}]},
		{"id": 2, "date": 1700000000, "recipients": [{"user_id": 3}]},
		{"id": 3, "date": 1700000000, "recipients": [{"user_id": 4}]}
	]`)

	threads := NewNormalizer(9, nil).NormalizeThreads(body)
	require.Len(t, threads, 3)
	assert.Equal(t, 2, threads[0].ID, "newest first")
	assert.Equal(t, 3, threads[1].ID, "equal dates preserve input order")
	assert.Equal(t, 1, threads[2].ID)
}

func TestNormalizeMessageTimestamps(t *testing.T) {
	n := NewNormalizer(1, nil)

	// Milliseconds: magnitude above the threshold is taken as-is.
	m := n.NormalizeMessage(map[string]interface{}{"created_at": 1700000000000.0}, 1, 0)
	assert.Equal(t, time.UnixMilli(1700000000000).Unix(), m.SentAt.Unix())

	// Seconds: below the threshold gets scaled up.
	m = n.NormalizeMessage(map[string]interface{}{"created_at": 1700000000.0}, 1, 0)
	assert.Equal(t, time.Unix(1700000000, 0).Unix(), m.SentAt.Unix())

	// Numeric string.
	m = n.NormalizeMessage(map[string]interface{}{"created_at": "1700000000"}, 1, 0)
	assert.Equal(t, time.Unix(1700000000, 0).Unix(), m.SentAt.Unix())

	// Unparseable: substitute the current time, never error.
	before := time.Now()
	m = n.NormalizeMessage(map[string]interface{}{"created_at": "not a date"}, 1, 0)
	assert.False(t, m.SentAt.Before(before.Add(-time.Second)))
}

func TestNormalizeMessageContentPreference(t *testing.T) {
	n := NewNormalizer(1, nil)

	m := n.NormalizeMessage(map[string]interface{}{
		"message": "from message", "content": "from content", "text": "from text",
	}, 1, 0)
	assert.Equal(t, "from message", m.Body)

	m = n.NormalizeMessage(map[string]interface{}{"content": "from content", "text": "from text"}, 1, 0)
	assert.Equal(t, "from content", m.Body)

	m = n.NormalizeMessage(map[string]interface{}{"text": "from text"}, 1, 0)
	assert.Equal(t, "from text", m.Body)

	m = n.NormalizeMessage(map[string]interface{}{}, 1, 0)
	assert.Equal(t, "", m.Body)
}

func TestNormalizeMessageStripsHTML(t *testing.T) {
	m := NewNormalizer(1, nil).NormalizeMessage(map[string]interface{}{
		"message": `<p>hello <strong>there</strong></p><script>alert(1)</script>`,
	}, 1, 0)
	assert.Equal(t, "hello there", m.Body)
}

func TestNormalizeMessageIDFallback(t *testing.T) {
	n := NewNormalizer(1, nil)

	m := n.NormalizeMessage(map[string]interface{}{"message_id": 44.0, "id": 45.0}, 7, 3)
	assert.Equal(t, "44", m.ID)

	m = n.NormalizeMessage(map[string]interface{}{"id": 45.0}, 7, 3)
	assert.Equal(t, "45", m.ID)

	m = n.NormalizeMessage(map[string]interface{}{}, 7, 3)
	assert.Equal(t, "7_3", m.ID)
}

func TestFilterMessagesDedupAcrossIDTypes(t *testing.T) {
	// A numeric 7 and a string "7" are the same logical id: exactly one
	// survives.
	raw := []map[string]interface{}{
		{"id": "7", "thread_id": 5.0, "message": "first", "created_at": 1700000000.0},
		{"id": 7.0, "thread_id": 5.0, "message": "dup", "created_at": 1700000100.0},
	}

	messages := NewNormalizer(1, nil).FilterMessages(raw, 5)
	require.Len(t, messages, 1)
	assert.Equal(t, "7", messages[0].ID)
}

func TestFilterMessagesOrderingAndThreadFilter(t *testing.T) {
	raw := []map[string]interface{}{
		{"id": 3.0, "thread_id": 5.0, "message": "c", "created_at": 1700000300.0},
		{"id": 1.0, "thread_id": 5.0, "message": "a", "created_at": 1700000100.0},
		{"id": 9.0, "thread_id": 6.0, "message": "other", "created_at": 1700000000.0},
		{"id": 2.0, "thread_id": 5.0, "message": "b", "created_at": 1700000200.0},
	}

	messages := NewNormalizer(1, nil).FilterMessages(raw, 5)
	require.Len(t, messages, 3)
	for i := 1; i < len(messages); i++ {
		assert.False(t, messages[i].SentAt.Before(messages[i-1].SentAt),
			"messages must be non-decreasing by SentAt")
	}
	assert.Equal(t, []string{"1", "2", "3"}, []string{messages[0].ID, messages[1].ID, messages[2].ID})
}

func TestNormalizeMessagesEnvelopes(t *testing.T) {
	n := NewNormalizer(1, nil)

	fromEnvelope := n.NormalizeMessages([]byte(`{"messages": [{"id": 1, "message": "hi"}]}`), 5)
	require.Len(t, fromEnvelope, 1)

	fromArray := n.NormalizeMessages([]byte(`[{"id": 1, "message": "hi"}]`), 5)
	require.Len(t, fromArray, 1)

	fromSingle := n.NormalizeMessages([]byte(`{"id": 1, "message": "hi", "thread_id": 5}`), 5)
	require.Len(t, fromSingle, 1)

	assert.Empty(t, n.NormalizeMessages([]byte(`{"status": "ok"}`), 5))
}

func TestUserLookupFeedsParticipants(t *testing.T) {
	lookup := func(userID int) *models.Participant {
		if userID == 4 {
			return &models.Participant{UserID: 4, DisplayName: "Looked Up"}
		}
		return nil
	}

	body := []byte(`{
		"threads": [{"thread_id": 1, "participants": [1, 4]}],
		"users": [],
		"messages": []
	}`)

	threads := NewNormalizer(1, lookup).NormalizeThreads(body)
	require.Len(t, threads, 1)
	assert.Equal(t, "Looked Up", OtherParticipant(threads[0].Recipients, 1).DisplayName)
}
