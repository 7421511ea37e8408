package domain

import "testing"

func TestResolveRole(t *testing.T) {
	tests := []struct {
		name       string
		creatorID  string
		opponentID string
		callerID   string
		want       Role
	}{
		{"creator is host", "alice", "bob", "alice", RoleHost},
		{"opponent is opponent", "alice", "bob", "bob", RoleOpponent},
		{"stranger is viewer", "alice", "bob", "carol", RoleViewer},
		{"unmatched competition, creator", "alice", "", "alice", RoleHost},
		{"unmatched competition, stranger", "alice", "", "bob", RoleViewer},
		{"empty caller is viewer even with empty opponent", "alice", "", "", RoleViewer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveRole(tt.creatorID, tt.opponentID, tt.callerID); got != tt.want {
				t.Errorf("ResolveRole(%q, %q, %q) = %q, want %q",
					tt.creatorID, tt.opponentID, tt.callerID, got, tt.want)
			}
		})
	}
}

func TestIsParticipant(t *testing.T) {
	if !RoleHost.IsParticipant() || !RoleOpponent.IsParticipant() {
		t.Error("host and opponent must be participants")
	}
	if RoleViewer.IsParticipant() {
		t.Error("viewer must not be a participant")
	}
	if Role("moderator").IsParticipant() {
		t.Error("unknown roles must not be participants")
	}
}
