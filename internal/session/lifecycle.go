// Package session orchestrates go-live and end-session across the
// registry, the host pipeline, and the external competition record.
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
	"github.com/maelsh/dueli-broadcast/internal/registry"
)

// Finalizer seals the uploaded chunks into a playable asset.
type Finalizer interface {
	Finalize() error
}

// MediaSession is the P2P connection owned by a participant.
type MediaSession interface {
	Disconnect()
}

// Broadcast is the host's compositing pipeline.
type Broadcast interface {
	Destroy()
}

type sessionRecord struct {
	ended bool

	// Host-side collaborators, nil on the server and on the opponent.
	broadcast Broadcast
	finalizer Finalizer
	media     MediaSession
}

// Lifecycle owns the pending -> live -> ended transition per
// competition and the deterministic distribution/VOD URL scheme.
type Lifecycle struct {
	competitions domain.CompetitionService
	rooms        *registry.Registry
	baseURL      string

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

func NewLifecycle(competitions domain.CompetitionService, rooms *registry.Registry, distributionBaseURL string) *Lifecycle {
	return &Lifecycle{
		competitions: competitions,
		rooms:        rooms,
		baseURL:      distributionBaseURL,
		sessions:     make(map[string]*sessionRecord),
	}
}

// DistributionURL is the live playlist location for a competition,
// derived deterministically from its id.
func (l *Lifecycle) DistributionURL(competitionID string) string {
	return fmt.Sprintf("%s/streams/%s/live.m3u8", l.baseURL, competitionID)
}

// RecordedAssetURL is the sealed VOD manifest location.
func (l *Lifecycle) RecordedAssetURL(competitionID string) string {
	return fmt.Sprintf("%s/streams/%s/vod.m3u8", l.baseURL, competitionID)
}

// AttachHostPipeline registers the host's compositor, uploader and
// media session so EndSession can run the full teardown ordering.
func (l *Lifecycle) AttachHostPipeline(competitionID string, broadcast Broadcast, finalizer Finalizer, media MediaSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := l.session(competitionID)
	rec.broadcast = broadcast
	rec.finalizer = finalizer
	rec.media = media
}

// AttachMediaSession registers a participant's connection for
// guaranteed release on EndSession.
func (l *Lifecycle) AttachMediaSession(competitionID string, media MediaSession) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session(competitionID).media = media
}

// AttachFinalizer registers the finalize action. The opponent side
// attaches one too: ending the session is symmetrical.
func (l *Lifecycle) AttachFinalizer(competitionID string, finalizer Finalizer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session(competitionID).finalizer = finalizer
}

// GoLive transitions pending -> live. Only the creator may call it, and
// the competition must already have a matched opponent. The expected
// distribution URL is stored on the external competition record.
func (l *Lifecycle) GoLive(competitionID, actorID string) (string, error) {
	comp, err := l.competitions.GetCompetition(competitionID)
	if err != nil {
		return "", fmt.Errorf("get competition %s: %w", competitionID, err)
	}
	if domain.ResolveRole(comp.CreatorID, comp.OpponentID, actorID) != domain.RoleHost {
		return "", domain.ErrPermissionDenied
	}
	if comp.OpponentID == "" {
		return "", domain.ErrOpponentMissing
	}

	l.mu.Lock()
	rec := l.session(competitionID)
	if rec.ended {
		l.mu.Unlock()
		return "", domain.ErrSessionEnded
	}
	l.mu.Unlock()

	url := l.DistributionURL(competitionID)
	if err := l.competitions.SetLive(competitionID, url); err != nil {
		return "", fmt.Errorf("mark competition live: %w", err)
	}
	metrics.SessionsLiveTotal.Inc()
	slog.Info("session live", "competitionID", competitionID, "distributionURL", url)
	return url, nil
}

// EndSession runs the teardown in order: stop the broadcast pipeline,
// seal the asset, update the competition record, leave and close the
// room, and release the connection. The asset is sealed before the
// record flips to ended so late viewers never hit a half-written VOD.
// Every step is best-effort except the final Disconnect, which always
// runs. Callable by either competitor; idempotent.
func (l *Lifecycle) EndSession(competitionID, actorID string) (string, bool, error) {
	comp, err := l.competitions.GetCompetition(competitionID)
	if err != nil {
		return "", false, fmt.Errorf("get competition %s: %w", competitionID, err)
	}
	role := domain.ResolveRole(comp.CreatorID, comp.OpponentID, actorID)
	if !role.IsParticipant() {
		return "", false, domain.ErrPermissionDenied
	}

	vodURL := l.RecordedAssetURL(competitionID)

	l.mu.Lock()
	rec := l.session(competitionID)
	if rec.ended {
		l.mu.Unlock()
		return vodURL, true, nil
	}
	rec.ended = true
	broadcast, finalizer, media := rec.broadcast, rec.finalizer, rec.media
	l.mu.Unlock()

	// (1) stop compositing, flushing the in-flight segment.
	if broadcast != nil {
		broadcast.Destroy()
	}

	// (2) seal the recorded asset.
	if finalizer != nil {
		if err := finalizer.Finalize(); err != nil {
			metrics.FinalizeFailuresTotal.Inc()
			slog.Error("finalize failed, flagged for follow-up", "competitionID", competitionID, "error", err)
		}
	}

	// (3) flip the external competition record.
	if err := l.competitions.SetEnded(competitionID, vodURL); err != nil {
		slog.Error("failed to mark competition ended", "competitionID", competitionID, "error", err)
	}

	// (4) release room presence and close the room.
	roomID := registry.RoomID(competitionID)
	if err := l.rooms.LeaveRoom(roomID, actorID, role); err != nil {
		slog.Error("failed to leave room", "roomID", roomID, "error", err)
	}
	if err := l.rooms.CloseRoom(roomID); err != nil {
		slog.Error("failed to close room", "roomID", roomID, "error", err)
	}

	// (5) always release local media and the peer connection.
	if media != nil {
		media.Disconnect()
	}

	metrics.SessionsEndedTotal.Inc()
	slog.Info("session ended", "competitionID", competitionID, "recordedAssetURL", vodURL)
	return vodURL, false, nil
}

// session returns the record for a competition, creating it lazily.
// Caller holds l.mu.
func (l *Lifecycle) session(competitionID string) *sessionRecord {
	rec, ok := l.sessions[competitionID]
	if !ok {
		rec = &sessionRecord{}
		l.sessions[competitionID] = rec
	}
	return rec
}
