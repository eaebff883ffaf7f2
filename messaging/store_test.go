package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buddygate/config"
	"buddygate/wordpress"
)

func newTestStore(t *testing.T, handler http.Handler) (*Store, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &config.WordPressConfig{
		BaseURL:      srv.URL,
		ModernBase:   srv.URL + "/modern",
		LegacyBase:   srv.URL + "/legacy",
		AuthBase:     srv.URL + "/auth",
		MembersBase:  srv.URL + "/members",
		TimeoutSecs:  5,
		RefetchDelay: 10,
		PerPage:      50,
	}
	client := wordpress.NewClient(cfg, "test-token")
	return NewStore(1, client, nil, cfg.RefetchDelayDuration()), srv
}

const listEnvelope = `{
	"threads": [
		{"thread_id": 5, "participants": [1, 2], "lastTime": 1700000200000},
		{"thread_id": 6, "participants": [1, 3], "lastTime": 1700000100000}
	],
	"users": [
		{"user_id": 2, "name": "Ann"},
		{"user_id": 3, "name": "Bob"}
	],
	"messages": [
		{"id": 51, "thread_id": 5, "sender_id": 2, "message": "see you at the gym", "created_at": 1700000200000},
		{"id": 61, "thread_id": 6, "sender_id": 3, "message": "thanks!", "created_at": 1700000100000}
	]
}`

func TestLoadThreadsAndFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	store, _ := newTestStore(t, mux)

	require.NoError(t, store.LoadThreads(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap.Threads, 2)
	assert.Equal(t, snap.Threads, snap.Filtered, "empty query shows everything")
	assert.Equal(t, 5, snap.Threads[0].ID, "most recent first")

	// Counterparty name match, case-insensitive.
	store.SetSearch("ANN")
	snap = store.Snapshot()
	require.Len(t, snap.Filtered, 1)
	assert.Equal(t, 5, snap.Filtered[0].ID)
	assert.Len(t, snap.Threads, 2, "filtering never mutates the full list")

	// Excerpt match.
	store.SetSearch("gym")
	snap = store.Snapshot()
	require.Len(t, snap.Filtered, 1)
	assert.Equal(t, 5, snap.Filtered[0].ID)

	// No match.
	store.SetSearch("zzz")
	assert.Empty(t, store.Snapshot().Filtered)

	// Clearing the query restores the full view.
	store.SetSearch("")
	assert.Len(t, store.Snapshot().Filtered, 2)
}

func TestLoadThreadsReappliesFilterAfterRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	store, _ := newTestStore(t, mux)

	store.SetSearch("bob")
	require.NoError(t, store.LoadThreads(context.Background()))

	snap := store.Snapshot()
	require.Len(t, snap.Filtered, 1)
	assert.Equal(t, 6, snap.Filtered[0].ID)
}

func TestLoadThreadsExhaustionShowsEmptyState(t *testing.T) {
	store, _ := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	// A read that exhausts every endpoint degrades to empty, not error.
	require.NoError(t, store.LoadThreads(context.Background()))
	snap := store.Snapshot()
	assert.Empty(t, snap.Threads)
	assert.Empty(t, snap.Filtered)
}

func TestOpenConversationLoadsMessages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	mux.HandleFunc("/modern/thread/5/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 52, "thread_id": 5, "sender_id": 1, "message": "on my way", "created_at": 1700000300},
			{"id": 51, "thread_id": 5, "sender_id": 2, "message": "see you at the gym", "created_at": 1700000200}
		]`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))

	selection, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, selection.OtherUserID)
	assert.Equal(t, "Ann", selection.OtherUser.DisplayName)

	snap := store.Snapshot()
	require.NotNil(t, snap.Active)
	require.Len(t, snap.Active.Messages, 2)
	assert.Equal(t, "51", snap.Active.Messages[0].ID, "ascending by send time")
	assert.Equal(t, "52", snap.Active.Messages[1].ID)
}

func TestLoadConversationFallsBackToListPayload(t *testing.T) {
	// Every per-thread endpoint fails; the global message array captured
	// with the thread list is the next fallback.
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))

	_, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)

	snap := store.Snapshot()
	require.NotNil(t, snap.Active)
	require.Len(t, snap.Active.Messages, 1)
	assert.Equal(t, "51", snap.Active.Messages[0].ID)
	assert.Equal(t, "see you at the gym", snap.Active.Messages[0].Body)
}

func TestLoadConversationLegacyFallback(t *testing.T) {
	// Legacy list shape carries no global message array, so the ladder
	// bottoms out at the legacy per-thread endpoints.
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/legacy/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id": 7, "subject": "Hi", "excerpt": "legacy excerpt", "date": 1700000000,
			 "recipients": [{"user_id": 1}, {"user_id": 4, "name": "Dan"}]}
		]`))
	})
	mux.HandleFunc("/legacy/messages/7", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages": [
			{"id": 71, "sender_id": 4, "message": "legacy body", "date_sent": 1700000000}
		]}`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))

	_, err := store.OpenConversation(context.Background(), 7)
	require.NoError(t, err)

	snap := store.Snapshot()
	require.NotNil(t, snap.Active)
	require.Len(t, snap.Active.Messages, 1)
	assert.Equal(t, "legacy body", snap.Active.Messages[0].Body)
}

func TestStaleConversationResponseDropped(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))

	_, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)
	before := store.Snapshot()

	// A late response for a thread the user already navigated away from
	// must not touch the visible state.
	store.commitConversation(6, NewNormalizer(1, nil).FilterMessages([]map[string]interface{}{
		{"id": 61.0, "thread_id": 6.0, "message": "stale", "created_at": 1700000100.0},
	}, 6))

	after := store.Snapshot()
	assert.Equal(t, before.Active.ThreadID, after.Active.ThreadID)
	assert.Equal(t, before.Active.Messages, after.Active.Messages)
}

func TestOpenConversationDegenerateThread(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"threads": [{"thread_id": 9, "participants": [1]}],
			"users": [],
			"messages": []
		}`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))

	_, err := store.OpenConversation(context.Background(), 9)
	assert.Error(t, err, "a thread whose only participant is the caller cannot be displayed")
}

func TestMarkReadClearsUnreadLocally(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"threads": [{"thread_id": 5, "participants": [1, 2], "unread_count": 3, "lastTime": 1700000000}],
			"users": [],
			"messages": []
		}`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))
	require.Equal(t, 3, store.Snapshot().Threads[0].UnreadCount)

	// The upstream call 404s; the local clear still applies.
	store.MarkRead(context.Background(), 5)
	assert.Equal(t, 0, store.Snapshot().Threads[0].UnreadCount)
	assert.Equal(t, 0, store.Snapshot().Filtered[0].UnreadCount)
}

func TestSetStarredTogglesLocally(t *testing.T) {
	var starMethods []string
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	mux.HandleFunc("/modern/thread/5/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 51, "thread_id": 5, "sender_id": 2, "message": "hi", "created_at": 1700000200}]`))
	})
	mux.HandleFunc("/modern/message/51/star", func(w http.ResponseWriter, r *http.Request) {
		starMethods = append(starMethods, r.Method)
		w.Write([]byte(`{}`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))
	_, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)

	require.NoError(t, store.SetStarred(context.Background(), "51", true))
	assert.True(t, store.Snapshot().Active.Messages[0].Starred)

	require.NoError(t, store.SetStarred(context.Background(), "51", false))
	assert.False(t, store.Snapshot().Active.Messages[0].Starred)

	assert.Equal(t, []string{http.MethodPost, http.MethodDelete}, starMethods,
		"starring posts, unstarring deletes")
}

func TestSetStarredUpstreamFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listEnvelope))
	})
	mux.HandleFunc("/modern/thread/5/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 51, "thread_id": 5, "sender_id": 2, "message": "hi", "created_at": 1700000200}]`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))
	_, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)

	// Both star endpoints 404: the error surfaces and the message keeps
	// its unstarred state.
	require.Error(t, store.SetStarred(context.Background(), "51", true))
	assert.False(t, store.Snapshot().Active.Messages[0].Starred)
}

func TestRefreshReloadsBoth(t *testing.T) {
	var listCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/modern/threads", func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		w.Write([]byte(listEnvelope))
	})
	mux.HandleFunc("/modern/thread/5/messages", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 51, "thread_id": 5, "message": "hi", "created_at": 1700000000}]`))
	})
	store, _ := newTestStore(t, mux)
	require.NoError(t, store.LoadThreads(context.Background()))
	_, err := store.OpenConversation(context.Background(), 5)
	require.NoError(t, err)

	require.NoError(t, store.Refresh(context.Background()))
	assert.GreaterOrEqual(t, listCalls, 2)

	snap := store.Snapshot()
	assert.False(t, snap.Flags.Refreshing)
	require.NotNil(t, snap.Active)
	assert.Len(t, snap.Active.Messages, 1)
}

func TestRefetchDelayConfig(t *testing.T) {
	cfg := &config.WordPressConfig{RefetchDelay: 1200}
	assert.Equal(t, 1200*time.Millisecond, cfg.RefetchDelayDuration())
}
