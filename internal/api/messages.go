package api

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// CreateRoomRequest opens the signaling room for a competition.
type CreateRoomRequest struct {
	CompetitionID string `json:"competitionId"`
	UserID        string `json:"userId"`
}

type JoinRoomRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type LeaveRoomRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RoomStatusResponse is the polled presence snapshot.
type RoomStatusResponse struct {
	RoomID          string `json:"roomId"`
	HostPresent     bool   `json:"hostPresent"`
	OpponentPresent bool   `json:"opponentPresent"`
	Closed          bool   `json:"closed"`
}

// SignalMessage is one signaling log entry on the wire. Payload holds
// either an SDP description or an ICE candidate depending on Kind.
type SignalMessage struct {
	Seq     uint64          `json:"seq"`
	Round   uint64          `json:"round"`
	Kind    string          `json:"kind"` // "offer" | "answer" | "ice"
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

type PostSignalRequest struct {
	Kind    string          `json:"kind"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

type PullSignalsResponse struct {
	RoomID  string          `json:"roomId"`
	Signals []SignalMessage `json:"signals"`
}

// SDPPayload is the payload of an offer or answer signal.
type SDPPayload struct {
	Description webrtc.SessionDescription `json:"description"`
}

// ICEPayload is the payload of an ice signal.
type ICEPayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type GoLiveRequest struct {
	ActorID string `json:"actorId"`
}

type GoLiveResponse struct {
	CompetitionID   string `json:"competitionId"`
	DistributionURL string `json:"distributionUrl"`
}

type EndSessionRequest struct {
	ActorID string `json:"actorId"`
}

type EndSessionResponse struct {
	CompetitionID    string `json:"competitionId"`
	RecordedAssetURL string `json:"recordedAssetUrl"`
	AlreadyEnded     bool   `json:"alreadyEnded"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
