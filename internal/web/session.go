package web

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"food_detector/internal/detector"
	"food_detector/internal/upload"
)

const sessionCookie = "food_session"

// Session is the state of one browser: at most one uploaded image and the
// detection result derived from it.
type Session struct {
	ID string

	mu        sync.Mutex
	upload    *upload.Image
	result    *detector.Result
	annotated []byte
	version   int64
	lastSeen  time.Time
}

// replace makes img the active upload and drops everything derived from the
// previous one. A nil img clears the session.
func (s *Session) replace(img *upload.Image) {
	s.upload = img
	s.result = nil
	s.annotated = nil
	s.version++
}

func (s *Session) setResult(res *detector.Result, annotated []byte) {
	s.result = res
	s.annotated = annotated
	s.version++
}

// SessionStore keeps sessions in memory and forgets those idle for longer
// than ttl. At most limit sessions are live; creating one beyond that evicts
// the least recently used.
type SessionStore struct {
	ttl time.Duration
	limit int
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewSessionStore(ttl time.Duration, limit int) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		limit:    limit,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Get returns a live session and refreshes its idle timer.
func (st *SessionStore) Get(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.sessions[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if now.Sub(s.lastSeen) > st.ttl {
		delete(st.sessions, id)
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// Create starts a new empty session, sweeping expired ones.
func (st *SessionStore) Create() (*Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	st.sweep(now)
	for st.limit > 0 && len(st.sessions) >= st.limit {
		st.evictOldest()
	}
	s := &Session{ID: id, lastSeen: now}
	st.sessions[id] = s
	return s, nil
}

func (st *SessionStore) sweep(now time.Time) {
	for k, s := range st.sessions {
		if now.Sub(s.lastSeen) > st.ttl {
			delete(st.sessions, k)
		}
	}
}

func (st *SessionStore) evictOldest() {
	var oldest *Session
	for _, s := range st.sessions {
		if oldest == nil || s.lastSeen.Before(oldest.lastSeen) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(st.sessions, oldest.ID)
	}
}

// Len is the number of stored sessions, expired ones included until swept.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

func newSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
