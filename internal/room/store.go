// internal/room/store.go
package room

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/markreid/faceoff/internal/models"
)

// retainFinished is how long a finished room stays in memory for late
// polling before the sweep evicts it.
const retainFinished = time.Hour

// Store holds every live room in memory, keyed by match ID.
type Store struct {
	mu    sync.Mutex
	rooms map[string]*Room
	log   *logrus.Logger
}

// NewStore initializes an empty room store.
func NewStore(log *logrus.Logger) *Store {
	return &Store{
		rooms: make(map[string]*Room),
		log:   log,
	}
}

// Add registers a room. Existing IDs are never overwritten.
func (s *Store) Add(r *Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rooms[r.ID]; exists {
		s.log.Warnf("room store: attempted to add duplicate room %s", r.ID)
		return
	}
	s.rooms[r.ID] = r
}

// Get retrieves a room by match ID.
func (s *Store) Get(id string) (*Room, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[id]
	return r, ok
}

// Delete drops a room from memory.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
}

// FindBySession returns the most relevant room for a session: a waiting or
// active seat wins over a recently finished one, so late pollers still see
// their terminal result until eviction.
func (s *Store) FindBySession(sessionID string) (*Room, bool) {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	var finished *Room
	for _, r := range rooms {
		if !r.HasSession(sessionID) {
			continue
		}
		if r.Status() != StatusFinished {
			return r, true
		}
		if finished == nil || r.CreatedAt().After(finished.CreatedAt()) {
			finished = r
		}
	}
	return finished, finished != nil
}

// Waiting lists the open (joinable) rooms of a kind.
func (s *Store) Waiting(kind models.GameKind) []*Room {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()

	var open []*Room
	for _, r := range rooms {
		if r.Kind == kind && r.Status() == StatusWaiting {
			open = append(open, r)
		}
	}
	return open
}

// RunSweeper evicts finished rooms older than the retention window every
// interval until the context is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeFinished(time.Now().Add(-retainFinished))
		}
	}
}

func (s *Store) purgeFinished(cutoff time.Time) {
	s.mu.Lock()
	rooms := make(map[string]*Room, len(s.rooms))
	for id, r := range s.rooms {
		rooms[id] = r
	}
	s.mu.Unlock()

	for id, r := range rooms {
		if r.FinishedSince(cutoff) {
			s.Delete(id)
			s.log.Infof("room store: evicted finished room %s", id)
		}
	}
}

// ShutdownAll cancels every room's outstanding timer.
func (s *Store) ShutdownAll() {
	s.mu.Lock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.Unlock()
	for _, r := range rooms {
		r.Shutdown()
	}
}
