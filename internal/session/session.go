// Package session holds the process-wide authentication state. The
// Store is the single source of truth consumed by the guard, the HTTP
// transport and the CLI pages; all writes flow through the auth service.
package session

import (
	"sync"
	"time"

	"github.com/todocloud-dev/todocloud/internal/idp"
)

// Session is one immutable snapshot of the authentication state
type Session struct {
	// Authenticated reports whether a signed-in user is present.
	// User is non-nil exactly when Authenticated is true.
	Authenticated bool

	// User is the provider's record of the signed-in user
	User *idp.Identity

	// Loading is true while a sign-in or startup check is in flight
	Loading bool

	// Err is the user-facing message of the last failed operation
	Err string

	// Expiry is when the current access token lapses. A zero value with
	// Authenticated set means the expiry could not be read from the token.
	Expiry time.Time
}

// Default returns the signed-out state
func Default() Session {
	return Session{}
}

// Store holds the current session and notifies subscribers on change
type Store struct {
	mu      sync.RWMutex
	current Session
	subs    map[uint64]chan Session
	nextID  uint64
}

// NewStore returns a store in the default signed-out state
func NewStore() *Store {
	return &Store{subs: make(map[uint64]chan Session)}
}

// Current returns the latest session snapshot
func (s *Store) Current() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set replaces the session and notifies subscribers. An unauthenticated
// session is normalized so User and Expiry never leak past sign-out.
func (s *Store) Set(next Session) {
	if !next.Authenticated {
		next.User = nil
		next.Expiry = time.Time{}
	}

	s.mu.Lock()
	s.current = next
	subs := make([]chan Session, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		// Keep only the latest snapshot per subscriber; a slow reader
		// skips intermediate states instead of blocking the writer.
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- next:
			default:
			}
		}
	}
}

// Update applies fn to the current session and stores the result
func (s *Store) Update(fn func(Session) Session) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	s.Set(fn(cur))
}

// Subscribe registers for session change notifications. The returned
// channel holds at most the latest snapshot. Cancel releases it.
func (s *Store) Subscribe() (<-chan Session, func()) {
	ch := make(chan Session, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
	return ch, cancel
}
