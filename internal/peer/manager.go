// Package peer owns the participant-side P2P connection: local media
// acquisition, offer/answer/ICE exchange through the room registry, and
// the per-session connection state machine.
package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/maelsh/dueli-broadcast/internal/api"
	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
)

// State is the connection state of one participant session.
type State string

const (
	StateNew            State = "new"
	StateAcquiringMedia State = "acquiring_media"
	StateWaitingForPeer State = "waiting_for_peer"
	StateNegotiating    State = "negotiating"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateFailed         State = "failed"
	StateClosed         State = "closed"
)

// Signaler is the session's view of the room registry. Implementations
// must tolerate duplicate delivery on Pull; the manager dedupes by Seq.
type Signaler interface {
	Join(userID string, role domain.Role) (domain.RoomStatus, error)
	Status() (domain.RoomStatus, error)
	Post(msg domain.SignalingMessage) error
	Pull(role domain.Role, sinceSeq uint64) ([]domain.SignalingMessage, error)
	Leave(userID string, role domain.Role) error
}

// RemoteStream carries the usable remote track set after negotiation.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) VideoTrack() *webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return nil
}

// Manager drives one participant session. All public methods are safe
// for concurrent use.
type Manager struct {
	role     domain.Role
	userID   string
	cfg      config.WebRTCConfig
	signaler Signaler
	source   MediaSource

	mu            sync.Mutex
	state         State
	pc            *webrtc.PeerConnection
	local         *LocalStream
	remote        *RemoteStream
	lastSeq       uint64
	seen          map[uint64]struct{}
	pendingICE    []webrtc.ICECandidateInit
	remoteDescSet bool
	streamFired   bool
	reconnected   bool

	// OnStateChange and OnRemoteStream are invoked outside the manager
	// lock. OnRemoteStream fires exactly once per successful
	// negotiation round, with a non-empty stream.
	OnStateChange  func(State)
	OnRemoteStream func(*RemoteStream)
	OnError        func(error)
}

func NewManager(role domain.Role, userID string, cfg config.WebRTCConfig, signaler Signaler, source MediaSource) (*Manager, error) {
	if !role.IsParticipant() {
		return nil, domain.ErrPermissionDenied
	}
	return &Manager{
		role:     role,
		userID:   userID,
		cfg:      cfg,
		signaler: signaler,
		source:   source,
		state:    StateNew,
		remote:   &RemoteStream{},
		seen:     make(map[uint64]struct{}),
	}, nil
}

// Initialize acquires local media and builds the peer connection.
// Transitions new -> acquiring_media -> waiting_for_peer. On media
// failure the session stays in acquiring_media and Initialize is
// retryable.
func (m *Manager) Initialize(ctx context.Context) error {
	m.setState(StateAcquiringMedia)

	local, err := m.source.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}

	pc, err := m.newPeerConnection()
	if err != nil {
		m.source.Release()
		return fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTrack(local.Audio); err != nil {
		_ = pc.Close()
		m.source.Release()
		return fmt.Errorf("add audio track: %w", err)
	}
	if _, err := pc.AddTrack(local.Video); err != nil {
		_ = pc.Close()
		m.source.Release()
		return fmt.Errorf("add video track: %w", err)
	}

	m.mu.Lock()
	m.pc = pc
	m.local = local
	m.mu.Unlock()

	m.wirePeerConnection(pc)
	m.setState(StateWaitingForPeer)
	return nil
}

// newPeerConnection builds the pion API with an interceptor registry
// and interval PLI so the remote video recovers from loss without the
// compositor asking for keyframes.
func (m *Manager) newPeerConnection() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}
	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, err
	}
	registry.Add(pliFactory)

	webrtcAPI := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)
	return webrtcAPI.NewPeerConnection(m.cfg.WebrtcConfiguration())
}

func (m *Manager) wirePeerConnection(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		payload, err := json.Marshal(api.ICEPayload{Candidate: candidate.ToJSON()})
		if err != nil {
			return
		}
		if err := m.signaler.Post(domain.SignalingMessage{
			Kind:    domain.SignalIceCandidate,
			Sender:  m.role,
			Payload: payload,
		}); err != nil {
			slog.Error("failed to post ice candidate", "error", err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		slog.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		m.remote.add(track)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			// Ask for an immediate keyframe so the first composited
			// frame is decodable.
			_ = pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
			})
		}
		m.maybeFireRemoteStream()
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		slog.Debug("ice connection state changed", "state", s.String())
		switch s {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			m.setState(StateConnected)
			m.maybeFireRemoteStream()
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
			m.handleConnectionDrop()
		}
	})
}

// maybeFireRemoteStream fires OnRemoteStream once the session is
// connected and at least one remote track exists. Renegotiation after
// track replacement must not re-fire it with an empty stream, so the
// fired flag is only reset by a full negotiation round restart.
func (m *Manager) maybeFireRemoteStream() {
	m.mu.Lock()
	if m.streamFired || m.state != StateConnected || len(m.remote.Tracks()) == 0 {
		m.mu.Unlock()
		return
	}
	m.streamFired = true
	cb := m.OnRemoteStream
	remote := m.remote
	m.mu.Unlock()

	if cb != nil {
		cb(remote)
	}
}

// handleConnectionDrop attempts exactly one reconnection (ICE restart
// offered by the host) before declaring the session failed.
func (m *Manager) handleConnectionDrop() {
	m.mu.Lock()
	alreadyTried := m.reconnected
	m.reconnected = true
	pc := m.pc
	m.mu.Unlock()

	if alreadyTried || pc == nil {
		m.setState(StateFailed)
		return
	}

	m.setState(StateDisconnected)
	if m.role != domain.RoleHost {
		// The opponent waits for the host's restart offer.
		return
	}

	slog.Info("attempting ice restart")
	offer, err := pc.CreateOffer(&webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		m.setState(StateFailed)
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		m.setState(StateFailed)
		return
	}
	if err := m.postDescription(offer, domain.SignalOffer); err != nil {
		m.setState(StateFailed)
	}
}

// JoinRoom registers presence with the registry.
func (m *Manager) JoinRoom() (domain.RoomStatus, error) {
	return m.signaler.Join(m.userID, m.role)
}

// CreateOffer starts a negotiation round. Host only: the offer/answer
// asymmetry is a design invariant, a concurrent opponent offer would
// deadlock renegotiation.
func (m *Manager) CreateOffer(ctx context.Context) error {
	if m.role != domain.RoleHost {
		return domain.ErrInvalidRole
	}

	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("create offer: session not initialized")
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	if err := m.postDescription(offer, domain.SignalOffer); err != nil {
		return err
	}
	m.setState(StateNegotiating)
	return nil
}

func (m *Manager) postDescription(desc webrtc.SessionDescription, kind domain.SignalKind) error {
	payload, err := json.Marshal(api.SDPPayload{Description: desc})
	if err != nil {
		return err
	}
	return m.signaler.Post(domain.SignalingMessage{
		Kind:    kind,
		Sender:  m.role,
		Payload: payload,
	})
}

// Run is the session's signaling loop: it polls room status until the
// counterpart arrives (the host then offers exactly once per round),
// and pulls and applies counterpart signals. Returns when ctx is done,
// the session reaches a terminal state, or negotiation times out.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.StatusPollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(m.cfg.NegotiationTimeout)
	offered := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if state := m.CurrentState(); state == StateFailed || state == StateClosed {
			return nil
		}

		if !m.IsConnected() && time.Now().After(deadline) {
			m.setState(StateFailed)
			if m.OnError != nil {
				m.OnError(domain.ErrNegotiationTimeout)
			}
			return domain.ErrNegotiationTimeout
		}

		status, err := m.signaler.Status()
		if err != nil {
			slog.Warn("status poll failed", "error", err)
			continue
		}
		if status.Closed {
			return nil
		}

		// The host offers only after observing the opponent present.
		// An offer created earlier would be wasted work.
		if m.role == domain.RoleHost && !offered && status.OpponentPresent {
			if err := m.CreateOffer(ctx); err != nil {
				return err
			}
			offered = true
		}

		if err := m.pullAndApply(); err != nil {
			slog.Warn("signal pull failed", "error", err)
		}
	}
}

func (m *Manager) pullAndApply() error {
	m.mu.Lock()
	since := m.lastSeq
	m.mu.Unlock()

	msgs, err := m.signaler.Pull(m.role, since)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		m.mu.Lock()
		if _, dup := m.seen[msg.Seq]; dup {
			m.mu.Unlock()
			continue
		}
		m.seen[msg.Seq] = struct{}{}
		if msg.Seq > m.lastSeq {
			m.lastSeq = msg.Seq
		}
		m.mu.Unlock()

		if err := m.applySignal(msg); err != nil {
			slog.Error("failed to apply signal", "kind", msg.Kind, "seq", msg.Seq, "error", err)
		}
	}
	return nil
}

func (m *Manager) applySignal(msg domain.SignalingMessage) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no active peer connection")
	}

	switch msg.Kind {
	case domain.SignalOffer:
		if m.role != domain.RoleOpponent {
			return nil // own offer echoed back is filtered by the registry, ignore defensively
		}
		var p api.SDPPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		if err := pc.SetRemoteDescription(p.Description); err != nil {
			return err
		}
		m.markRemoteDescSet(pc)
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			return err
		}
		if err := pc.SetLocalDescription(answer); err != nil {
			return err
		}
		m.setState(StateNegotiating)
		return m.postDescription(answer, domain.SignalAnswer)

	case domain.SignalAnswer:
		if m.role != domain.RoleHost {
			return nil
		}
		var p api.SDPPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		if err := pc.SetRemoteDescription(p.Description); err != nil {
			return err
		}
		m.markRemoteDescSet(pc)
		return nil

	case domain.SignalIceCandidate:
		var p api.ICEPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return err
		}
		m.mu.Lock()
		if !m.remoteDescSet {
			// Candidates may arrive in any order but apply only after
			// the corresponding description.
			m.pendingICE = append(m.pendingICE, p.Candidate)
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
		return pc.AddICECandidate(p.Candidate)
	}
	return nil
}

func (m *Manager) markRemoteDescSet(pc *webrtc.PeerConnection) {
	m.mu.Lock()
	m.remoteDescSet = true
	pending := m.pendingICE
	m.pendingICE = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := pc.AddICECandidate(c); err != nil {
			slog.Warn("failed to apply buffered ice candidate", "error", err)
		}
	}
}

// GetLocalStream returns the acquired local track set, nil before
// Initialize succeeds.
func (m *Manager) GetLocalStream() *LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local
}

// GetRemoteStream is nil until the session reaches connected.
func (m *Manager) GetRemoteStream() *RemoteStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.streamFired {
		return nil
	}
	return m.remote
}

// ReplaceVideoTrack swaps the outgoing video track (camera switch,
// screen share) without touching audio.
func (m *Manager) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("replace video track: session not initialized")
	}
	for _, sender := range pc.GetSenders() {
		current := sender.Track()
		if current == nil || current.Kind() != webrtc.RTPCodecTypeVideo {
			continue
		}
		if err := sender.ReplaceTrack(track); err != nil {
			return fmt.Errorf("replace video track: %w", err)
		}
		return nil
	}
	return fmt.Errorf("replace video track: no video sender")
}

func (m *Manager) IsConnected() bool {
	return m.CurrentState() == StateConnected
}

func (m *Manager) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Disconnect releases local media and closes the peer connection.
// Always reaches closed, from any state, and is safe to call twice.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	pc := m.pc
	m.pc = nil
	cb := m.OnStateChange
	m.mu.Unlock()

	m.source.Release()
	if pc != nil {
		if err := pc.Close(); err != nil {
			slog.Warn("error closing peer connection", "error", err)
		}
	}
	_ = m.signaler.Leave(m.userID, m.role)

	metrics.PeerConnectionStateChanges.WithLabelValues(string(m.role), string(StateClosed)).Inc()
	if cb != nil {
		cb(StateClosed)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	cb := m.OnStateChange
	m.mu.Unlock()

	metrics.PeerConnectionStateChanges.WithLabelValues(string(m.role), string(s)).Inc()
	if cb != nil {
		cb(s)
	}
}
