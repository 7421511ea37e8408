package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/maelsh/dueli-broadcast/internal/domain"
)

func TestCreate_OneOpenRoomPerCompetition(t *testing.T) {
	repo := NewRoomRepository()
	first := domain.Room{ID: "room-a", CompetitionID: "comp-1", CreatedAt: time.Now()}
	if err := repo.Create(first); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := domain.Room{ID: "room-b", CompetitionID: "comp-1", CreatedAt: time.Now()}
	if err := repo.Create(dup); !errors.Is(err, domain.ErrRoomAlreadyExists) {
		t.Fatalf("expected ErrRoomAlreadyExists, got %v", err)
	}

	// Once the first room is closed a new one may open.
	if _, err := repo.Update("room-a", func(r *domain.Room) error {
		r.ClosedAt = time.Now()
		return nil
	}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := repo.Create(dup); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestCreate_ClosedRoomWithSameIDReplaced(t *testing.T) {
	repo := NewRoomRepository()
	closed := domain.Room{
		ID:            "room-a",
		CompetitionID: "comp-1",
		CreatedAt:     time.Now().Add(-time.Hour),
		ClosedAt:      time.Now(),
		Log:           []domain.SignalingMessage{{Seq: 1}},
	}
	if err := repo.Create(closed); err != nil {
		t.Fatalf("create closed: %v", err)
	}

	fresh := domain.Room{ID: "room-a", CompetitionID: "comp-1", CreatedAt: time.Now()}
	if err := repo.Create(fresh); err != nil {
		t.Fatalf("create over closed room: %v", err)
	}

	got, err := repo.Get("room-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Open() || len(got.Log) != 0 {
		t.Errorf("stale room state survived: %+v", got)
	}
}

func TestGetByCompetition_ReturnsNewest(t *testing.T) {
	repo := NewRoomRepository()
	old := domain.Room{ID: "room-old", CompetitionID: "comp-1", CreatedAt: time.Now().Add(-time.Hour), ClosedAt: time.Now()}
	fresh := domain.Room{ID: "room-new", CompetitionID: "comp-1", CreatedAt: time.Now()}
	repo.Create(old)
	repo.Create(fresh)

	got, err := repo.GetByCompetition("comp-1")
	if err != nil {
		t.Fatalf("get by competition: %v", err)
	}
	if got.ID != "room-new" {
		t.Errorf("got %q, want room-new", got.ID)
	}

	if _, err := repo.GetByCompetition("comp-404"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestUpdate_MutateErrorDiscardsChanges(t *testing.T) {
	repo := NewRoomRepository()
	repo.Create(domain.Room{ID: "room-a", CompetitionID: "comp-1", CreatedAt: time.Now()})

	_, err := repo.Update("room-a", func(r *domain.Room) error {
		r.HostPresent = true
		return domain.ErrRoomClosed
	})
	if !errors.Is(err, domain.ErrRoomClosed) {
		t.Fatalf("expected mutate error, got %v", err)
	}

	room, _ := repo.Get("room-a")
	if room.HostPresent {
		t.Error("failed mutate must not persist")
	}
}

func TestDelete(t *testing.T) {
	repo := NewRoomRepository()
	repo.Create(domain.Room{ID: "room-a", CompetitionID: "comp-1", CreatedAt: time.Now()})

	if err := repo.Delete("room-a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete("room-a"); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Errorf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestCloseStale_UsesLastSignalActivity(t *testing.T) {
	repo := NewRoomRepository()
	repo.Create(domain.Room{ID: "room-idle", CompetitionID: "comp-1", CreatedAt: time.Now().Add(-time.Hour)})
	repo.Create(domain.Room{
		ID:            "room-active",
		CompetitionID: "comp-2",
		CreatedAt:     time.Now().Add(-time.Hour),
		Log:           []domain.SignalingMessage{{Seq: 1, PostedAt: time.Now()}},
	})

	if n := repo.CloseStale(30 * time.Minute); n != 1 {
		t.Fatalf("closed %d rooms, want 1", n)
	}
	idle, _ := repo.Get("room-idle")
	if idle.Open() {
		t.Error("idle room should be closed")
	}
	active, _ := repo.Get("room-active")
	if !active.Open() {
		t.Error("recently active room should stay open")
	}
}
