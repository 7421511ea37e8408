package domain

// Role classifies an actor within one competition session.
type Role string

const (
	RoleHost     Role = "host"
	RoleOpponent Role = "opponent"
	RoleViewer   Role = "viewer"
)

// ResolveRole classifies callerID against the competition record.
// The classification is exhaustive: any caller that is neither the
// creator nor the matched opponent is a viewer.
func ResolveRole(creatorID, opponentID, callerID string) Role {
	switch {
	case callerID != "" && callerID == creatorID:
		return RoleHost
	case callerID != "" && callerID == opponentID:
		return RoleOpponent
	default:
		return RoleViewer
	}
}

// IsParticipant reports whether the role may touch the media session.
func (r Role) IsParticipant() bool {
	return r == RoleHost || r == RoleOpponent
}
