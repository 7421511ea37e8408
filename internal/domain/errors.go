package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrCompetitionNotFound = errors.New("competition not found")
	ErrRoomAlreadyExists   = errors.New("room already exists")
	ErrRoomClosed          = errors.New("room is closed")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrInvalidRole         = errors.New("invalid role for operation")
	ErrMediaAcquisition    = errors.New("failed to acquire local media")
	ErrNegotiationTimeout  = errors.New("negotiation timed out")
	ErrUploadFailed        = errors.New("chunk upload failed after retries")
	ErrFinalizeFailed      = errors.New("failed to finalize recorded asset")
	ErrSessionEnded        = errors.New("session already ended")
	ErrDuplicateAnswer     = errors.New("answer already accepted for this round")
	ErrNoPendingOffer      = errors.New("no offer pending for this round")
	ErrOpponentMissing     = errors.New("competition has no opponent yet")
)
