package domain

import "time"

// SessionState is the lifecycle state of one broadcast session.
type SessionState string

const (
	SessionWaitingForPeer SessionState = "waiting_for_peer"
	SessionNegotiating    SessionState = "negotiating"
	SessionConnected      SessionState = "connected"
	SessionDisconnected   SessionState = "disconnected"
	SessionEnded          SessionState = "ended"
)

// Chunk is one fixed-duration slice of the composited output. Produced
// by the compositor, consumed exactly once by the uploader, discarded
// after an upload acknowledgment or exhausted retries.
type Chunk struct {
	Seq        uint64
	Payload    []byte
	ProducedAt time.Time
}

// Competition is the slice of the external competition record this core
// reads. The full record is owned by the surrounding backend.
type Competition struct {
	ID         string
	CreatorID  string
	OpponentID string
	Status     string
}

// CompetitionService is the external competition record collaborator.
// Persistence and authorization behind it are out of scope here.
type CompetitionService interface {
	GetCompetition(id string) (Competition, error)
	SetLive(id string, distributionURL string) error
	SetEnded(id string, recordedAssetURL string) error
}
