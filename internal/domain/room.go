package domain

import "time"

// SignalKind tags the variant carried by a SignalingMessage.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalIceCandidate SignalKind = "ice"
)

// SignalingMessage is one entry of a room's append-only signaling log.
// Seq is assigned by the registry and is monotonic per room. Round
// groups an offer with its answer and candidates; a superseding offer
// starts a new round.
type SignalingMessage struct {
	Seq      uint64
	Round    uint64
	Kind     SignalKind
	Sender   Role
	Payload  []byte
	PostedAt time.Time
}

// RoomStatus is the polled presence snapshot of a room.
type RoomStatus struct {
	HostPresent     bool
	OpponentPresent bool
	Closed          bool
}

// Room pairs exactly one host and one opponent for a single competition.
// Signaling is accepted only while the room is open.
type Room struct {
	ID            string
	CompetitionID string
	HostID        string
	OpponentID    string

	HostPresent     bool
	OpponentPresent bool

	// Log is the append-only signaling log, ordered by Seq.
	Log     []SignalingMessage
	NextSeq uint64
	Round   uint64

	CreatedAt time.Time
	ClosedAt  time.Time
}

func (r *Room) Open() bool {
	return r.ClosedAt.IsZero()
}

func (r *Room) Status() RoomStatus {
	return RoomStatus{
		HostPresent:     r.HostPresent,
		OpponentPresent: r.OpponentPresent,
		Closed:          !r.Open(),
	}
}

// RoomRepository persists rooms. The in-memory implementation lives in
// repository/memory; the registry never touches a room outside Update's
// critical section.
type RoomRepository interface {
	Create(room Room) error
	Get(id string) (Room, error)
	GetByCompetition(competitionID string) (Room, error)
	Update(id string, mutate func(*Room) error) (Room, error)
	Delete(id string) error
	CloseStale(idle time.Duration) int
}
