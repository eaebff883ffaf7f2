package messaging

import (
	"sync"
	"time"

	"buddygate/models"
	"buddygate/utils"
	"buddygate/wordpress"
)

const sessionTTL = 12 * time.Hour

// Session is one authenticated user's messaging context: their upstream
// client, member directory and conversation store.
type Session struct {
	UserID   int
	Me       models.Participant
	Client   *wordpress.Client
	Members  *wordpress.MemberDirectory
	Store    *Store
	lastSeen time.Time
}

// Registry holds live sessions keyed by user id. Sessions idle past the
// TTL are evicted; a later request rebuilds one from the persisted token.
type Registry struct {
	mu       sync.Mutex
	sessions map[int]*Session
}

// NewRegistry creates a session registry and starts its eviction loop.
func NewRegistry() *Registry {
	r := &Registry{sessions: make(map[int]*Session)}
	go r.evictLoop()
	return r
}

// Put registers a session for the user, replacing any previous one.
func (r *Registry) Put(session *Session) {
	r.mu.Lock()
	session.lastSeen = time.Now()
	r.sessions[session.UserID] = session
	r.mu.Unlock()
}

// Get returns the user's live session, or nil.
func (r *Registry) Get(userID int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[userID]
	if !ok {
		return nil
	}
	session.lastSeen = time.Now()
	return session
}

// Evict drops the user's session, e.g. on logout.
func (r *Registry) Evict(userID int) {
	r.mu.Lock()
	delete(r.sessions, userID)
	r.mu.Unlock()
}

func (r *Registry) evictLoop() {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		for userID, session := range r.sessions {
			if time.Since(session.lastSeen) > sessionTTL {
				delete(r.sessions, userID)
				utils.Log.Debug("evicted idle session for user %d", userID)
			}
		}
		r.mu.Unlock()
	}
}
