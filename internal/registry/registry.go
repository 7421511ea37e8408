// Package registry implements the signaling coordinator: one room per
// competition, presence tracking for host and opponent, and an
// append-only signaling log read by sequence cursor.
package registry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
)

type Registry struct {
	repo domain.RoomRepository
}

func New(repo domain.RoomRepository) *Registry {
	return &Registry{repo: repo}
}

// RoomID derives the room identifier for a competition. One competition
// maps to at most one open room.
func RoomID(competitionID string) string {
	return "room-" + competitionID
}

// CreateRoom opens the signaling room for a competition. Fails with
// ErrRoomAlreadyExists if an open room for that competition exists.
// The creating host is marked present immediately.
func (r *Registry) CreateRoom(competitionID, hostID string) (domain.Room, error) {
	room := domain.Room{
		ID:            RoomID(competitionID),
		CompetitionID: competitionID,
		HostID:        hostID,
		HostPresent:   true,
		CreatedAt:     time.Now(),
	}
	if err := r.repo.Create(room); err != nil {
		return domain.Room{}, fmt.Errorf("create room for competition %s: %w", competitionID, err)
	}
	metrics.RoomsCreatedTotal.Inc()
	metrics.OpenRooms.Inc()
	slog.Info("room created", "roomID", room.ID, "hostID", hostID)
	return room, nil
}

// JoinRoom marks the caller present. Idempotent per (room, role):
// rejoining returns the same status without duplicating presence.
// Viewers never hold presence in a room.
func (r *Registry) JoinRoom(roomID, userID string, role domain.Role) (domain.RoomStatus, error) {
	if !role.IsParticipant() {
		return domain.RoomStatus{}, domain.ErrPermissionDenied
	}
	room, err := r.repo.Update(roomID, func(room *domain.Room) error {
		if !room.Open() {
			return domain.ErrRoomClosed
		}
		switch role {
		case domain.RoleHost:
			if room.HostID != userID {
				return domain.ErrPermissionDenied
			}
			room.HostPresent = true
		case domain.RoleOpponent:
			if room.OpponentID != "" && room.OpponentID != userID {
				return domain.ErrPermissionDenied
			}
			room.OpponentID = userID
			room.OpponentPresent = true
		}
		return nil
	})
	if err != nil {
		return domain.RoomStatus{}, err
	}
	slog.Debug("room joined", "roomID", roomID, "userID", userID, "role", role)
	return room.Status(), nil
}

// GetStatus is the non-blocking presence read used by polling loops.
func (r *Registry) GetStatus(roomID string) (domain.RoomStatus, error) {
	room, err := r.repo.Get(roomID)
	if err != nil {
		return domain.RoomStatus{}, err
	}
	return room.Status(), nil
}

// PostSignal appends one signaling message to the room log and assigns
// its sequence number. Invariants enforced here:
//   - only the host offers, only the opponent answers
//   - a second host offer before an answer supersedes the round
//   - at most one answer per round
//   - candidates require an applied offer for the current round
func (r *Registry) PostSignal(roomID string, msg domain.SignalingMessage) (domain.SignalingMessage, error) {
	if !msg.Sender.IsParticipant() {
		return domain.SignalingMessage{}, domain.ErrPermissionDenied
	}
	_, err := r.repo.Update(roomID, func(room *domain.Room) error {
		if !room.Open() {
			return domain.ErrRoomClosed
		}

		switch msg.Kind {
		case domain.SignalOffer:
			if msg.Sender != domain.RoleHost {
				return domain.ErrInvalidRole
			}
			if r.roundHasOffer(room) && !r.roundHasAnswer(room) {
				// Supersede: the pending round is abandoned, its
				// buffered candidates become stale by round number.
				room.Round++
				metrics.NegotiationRoundsSuperseded.Inc()
			} else if r.roundHasAnswer(room) {
				room.Round++
			}
		case domain.SignalAnswer:
			if msg.Sender != domain.RoleOpponent {
				return domain.ErrInvalidRole
			}
			if !r.roundHasOffer(room) {
				return domain.ErrNoPendingOffer
			}
			if r.roundHasAnswer(room) {
				return domain.ErrDuplicateAnswer
			}
		case domain.SignalIceCandidate:
			if !r.roundHasOffer(room) {
				return domain.ErrNoPendingOffer
			}
		}

		room.NextSeq++
		msg.Seq = room.NextSeq
		msg.Round = room.Round
		msg.PostedAt = time.Now()
		room.Log = append(room.Log, msg)
		return nil
	})
	if err != nil {
		return domain.SignalingMessage{}, err
	}
	metrics.SignalsTotal.WithLabelValues(string(msg.Kind), string(msg.Sender)).Inc()
	return msg, nil
}

// PullSignals reads the counterpart's messages after sinceSeq. Delivery
// may repeat entries across polls; consumers dedupe by Seq.
func (r *Registry) PullSignals(roomID string, role domain.Role, sinceSeq uint64) ([]domain.SignalingMessage, error) {
	if !role.IsParticipant() {
		return nil, domain.ErrPermissionDenied
	}
	room, err := r.repo.Get(roomID)
	if err != nil {
		return nil, err
	}

	var out []domain.SignalingMessage
	for _, msg := range room.Log {
		if msg.Seq <= sinceSeq || msg.Sender == role {
			continue
		}
		if msg.Round != room.Round {
			continue // stale negotiation round
		}
		out = append(out, msg)
	}
	return out, nil
}

// LeaveRoom clears the caller's presence. When both sides have left the
// room is closed. Leaving a closed or unknown room is a no-op.
func (r *Registry) LeaveRoom(roomID, userID string, role domain.Role) error {
	if !role.IsParticipant() {
		return domain.ErrPermissionDenied
	}
	_, err := r.repo.Update(roomID, func(room *domain.Room) error {
		switch role {
		case domain.RoleHost:
			room.HostPresent = false
		case domain.RoleOpponent:
			room.OpponentPresent = false
		}
		if !room.HostPresent && !room.OpponentPresent && room.Open() {
			room.ClosedAt = time.Now()
			metrics.OpenRooms.Dec()
		}
		return nil
	})
	if err != nil {
		if err == domain.ErrRoomNotFound {
			return nil
		}
		return err
	}
	slog.Debug("room left", "roomID", roomID, "userID", userID, "role", role)
	return nil
}

// CloseRoom closes the room regardless of presence. Idempotent: closing
// an already-closed room is a no-op.
func (r *Registry) CloseRoom(roomID string) error {
	_, err := r.repo.Update(roomID, func(room *domain.Room) error {
		if room.Open() {
			room.ClosedAt = time.Now()
			metrics.OpenRooms.Dec()
		}
		return nil
	})
	if err == domain.ErrRoomNotFound {
		return nil
	}
	return err
}

// CleanupStale closes rooms with no signaling activity past idle.
func (r *Registry) CleanupStale(idle time.Duration) {
	if n := r.repo.CloseStale(idle); n > 0 {
		metrics.OpenRooms.Sub(float64(n))
		slog.Info("closed stale rooms", "count", n)
	}
}

func (r *Registry) roundHasOffer(room *domain.Room) bool {
	return r.roundHas(room, domain.SignalOffer)
}

func (r *Registry) roundHasAnswer(room *domain.Room) bool {
	return r.roundHas(room, domain.SignalAnswer)
}

func (r *Registry) roundHas(room *domain.Room, kind domain.SignalKind) bool {
	for i := len(room.Log) - 1; i >= 0; i-- {
		if room.Log[i].Round != room.Round {
			break
		}
		if room.Log[i].Kind == kind {
			return true
		}
	}
	return false
}
