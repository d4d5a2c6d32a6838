// internal/lobby/lobby_store.go
package lobby

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// LockStore hands out one mutex per lobby id so mutating operations on the
// same lobby run one at a time inside this process, while different lobbies
// proceed in parallel. Entries are reference counted and removed once unused.
type LockStore struct {
	mu    sync.Mutex           // Protects access to the locks map.
	locks map[int64]*lobbyLock // Map of lobby ID to its lock.
}

type lobbyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLockStore initializes and returns an empty LockStore.
func NewLockStore() *LockStore {
	return &LockStore{
		locks: make(map[int64]*lobbyLock),
	}
}

// Lock blocks until the caller holds the lock for lobbyID and returns the
// function that releases it.
func (s *LockStore) Lock(lobbyID int64) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[lobbyID]
	if !ok {
		l = &lobbyLock{}
		s.locks[lobbyID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			s.release(lobbyID, l)
		})
	}
}

func (s *LockStore) release(lobbyID int64, l *lobbyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, lobbyID)
		log.WithField("lobbyId", lobbyID).Trace("Released lobby lock entry")
	}
}

// Len returns how many lobby ids currently have a lock entry.
func (s *LockStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
