package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the default Store backend: a mutex-guarded map.
// Sessions do not survive a restart, which is acceptable for a
// handshake that completes within seconds.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uint32]*Session
	ttl      time.Duration

	// now is swappable for TTL tests.
	now func() time.Time
}

// NewMemoryStore creates an in-memory store whose sessions expire after
// ttl.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uint32]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *MemoryStore) Create(userID uint32, username string, version uint8, clientSession uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range createAttempts {
		id, err := randomID()
		if err != nil {
			return 0, err
		}
		if existing, ok := s.sessions[id]; ok && s.live(existing) {
			continue
		}
		s.sessions[id] = &Session{
			ID:            id,
			UserID:        userID,
			Username:      username,
			Version:       version,
			ClientSession: clientSession,
			State:         StateNegotiated,
			CreatedAt:     s.now(),
		}
		return id, nil
	}
	return 0, ErrBusy
}

func (s *MemoryStore) Get(id uint32) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !s.live(sess) {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) SetEphemeral(id uint32, eph Ephemeral) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !s.live(sess) {
		return ErrNotFound
	}
	if sess.State != StateNegotiated {
		return ErrConflict
	}

	sess.ClientEphemeral = eph.ClientEphemeral
	sess.ServerEphemeral = eph.ServerEphemeral
	sess.Secret = eph.Secret
	sess.ClientProof = eph.ClientProof
	sess.ServerProof = eph.ServerProof
	sess.State = StateEphemeralSent
	return nil
}

func (s *MemoryStore) MarkProven(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !s.live(sess) {
		return ErrNotFound
	}
	if sess.State != StateEphemeralSent {
		return ErrConflict
	}
	sess.State = StateProven
	return nil
}

func (s *MemoryStore) Kill(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.State = StateDead
	return nil
}

func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !s.live(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, sess := range s.sessions {
		if s.live(sess) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Close() error { return nil }

// live reports whether a session is neither dead nor past the TTL.
// Caller holds the lock.
func (s *MemoryStore) live(sess *Session) bool {
	if sess.State == StateDead {
		return false
	}
	return s.now().Sub(sess.CreatedAt) <= s.ttl
}

// randomID draws a uniform non-zero 32-bit session id. Zero is reserved
// so AUTH_NEGOTIATE never announces a zero session.
func randomID() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("session: draw id: %w", err)
		}
		if id := binary.LittleEndian.Uint32(buf[:]); id != 0 {
			return id, nil
		}
	}
}
