package memory

import (
	"sync"
	"time"

	"github.com/maelsh/dueli-broadcast/internal/domain"
)

type RoomRepository struct {
	rooms map[string]domain.Room
	mu    sync.RWMutex
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{
		rooms: make(map[string]domain.Room),
	}
}

func (r *RoomRepository) Create(room domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rooms[room.ID]; ok {
		if existing.Open() {
			return domain.ErrRoomAlreadyExists
		}
		// A closed room never blocks a fresh one for the same id.
		delete(r.rooms, room.ID)
	}
	for _, existing := range r.rooms {
		if existing.CompetitionID == room.CompetitionID && existing.Open() {
			return domain.ErrRoomAlreadyExists
		}
	}
	r.rooms[room.ID] = room
	return nil
}

func (r *RoomRepository) Get(id string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return room, nil
}

func (r *RoomRepository) GetByCompetition(competitionID string) (domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var found domain.Room
	var isFound bool

	for _, room := range r.rooms {
		if room.CompetitionID != competitionID {
			continue
		}
		if !isFound || room.CreatedAt.After(found.CreatedAt) {
			found = room
			isFound = true
		}
	}

	if !isFound {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return found, nil
}

// Update applies mutate to the stored room under the write lock, so
// concurrent appends to the signaling log cannot lose updates.
func (r *RoomRepository) Update(id string, mutate func(*domain.Room) error) (domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[id]
	if !ok {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	if err := mutate(&room); err != nil {
		return domain.Room{}, err
	}
	r.rooms[id] = room
	return room, nil
}

func (r *RoomRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[id]; !ok {
		return domain.ErrRoomNotFound
	}
	delete(r.rooms, id)
	return nil
}

// CloseStale closes open rooms whose last signaling activity is older
// than idle. Returns the number of rooms closed.
func (r *RoomRepository) CloseStale(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := 0
	now := time.Now()
	for id, room := range r.rooms {
		if !room.Open() {
			continue
		}
		last := room.CreatedAt
		if n := len(room.Log); n > 0 {
			last = room.Log[n-1].PostedAt
		}
		if now.Sub(last) > idle {
			room.ClosedAt = now
			r.rooms[id] = room
			closed++
		}
	}
	return closed
}
