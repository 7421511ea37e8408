package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/maelsh/dueli-broadcast/internal/client"
	"github.com/maelsh/dueli-broadcast/internal/competition"
	"github.com/maelsh/dueli-broadcast/internal/compositor"
	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/peer"
	"github.com/maelsh/dueli-broadcast/internal/playback"
	"github.com/maelsh/dueli-broadcast/internal/registry"
	"github.com/maelsh/dueli-broadcast/internal/uploader"
)

func main() {
	competitionID := flag.String("competition", "", "competition to broadcast or watch (required)")
	userID := flag.String("user", "", "user id (required for host and opponent)")
	serverURL := flag.String("server", "http://localhost:8000", "signalling server base URL")
	competitionAPI := flag.String("competition-api", "", "competition backend base URL for role resolution")
	roleOverride := flag.String("role", "", "skip role resolution: host, opponent or viewer")
	videoFile := flag.String("video", "", "IVF file to stream instead of the synthetic feed")
	audioFile := flag.String("audio", "", "Ogg/Opus file to stream alongside -video")
	configDir := flag.String("config", "./conf", "directory containing broadcast.yaml")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))

	if *competitionID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatal(err)
	}

	role, err := resolveRole(*roleOverride, *competitionAPI, *competitionID, *userID)
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("resolved role", "competitionID", *competitionID, "userID", *userID, "role", role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Non-participants never touch the room; they watch the HLS output.
	if role == domain.RoleViewer {
		runViewer(ctx, cfg, *competitionID)
		return
	}
	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	reg := client.New(client.Config{
		BaseURL: *serverURL,
		RoomID:  registry.RoomID(*competitionID),
	})

	if role == domain.RoleHost {
		if _, err := reg.CreateRoom(*competitionID, *userID); err != nil &&
			!errors.Is(err, domain.ErrRoomAlreadyExists) {
			log.Fatalf("create room: %v", err)
		}
	}

	var source peer.MediaSource
	if *videoFile != "" {
		source = peer.NewFileSource(*videoFile, *audioFile)
	} else {
		source = peer.NewSyntheticSource(cfg.Broadcast.FrameRate, time.Now().UnixNano())
	}

	mgr, err := peer.NewManager(role, *userID, cfg.WebRTC, reg, source)
	if err != nil {
		log.Fatalf("build peer manager: %v", err)
	}

	mgr.OnStateChange = func(s peer.State) {
		slog.Info("connection state", "state", s)
	}
	mgr.OnError = func(err error) {
		slog.Error("connection error", "error", err)
	}

	var teardown func()
	if role == domain.RoleHost {
		teardown = runHostPipeline(ctx, cfg, reg, mgr, *competitionID, *userID)
	} else {
		mgr.OnRemoteStream = func(rs *peer.RemoteStream) {
			slog.Info("remote stream up", "tracks", len(rs.Tracks()))
		}
		teardown = func() {
			if _, err := reg.EndSession(*competitionID, *userID); err != nil {
				slog.Error("end session failed", "error", err)
			}
			mgr.Disconnect()
		}
	}

	if err := mgr.Initialize(ctx); err != nil {
		log.Fatalf("initialize media session: %v", err)
	}
	if _, err := mgr.JoinRoom(); err != nil {
		log.Fatalf("join room: %v", err)
	}

	if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session loop exited", "error", err)
	}

	teardown()
}

// runHostPipeline wires the compositor and uploader to the media
// session, going live once the opponent connects. The returned teardown
// stops the pipeline, seals the asset and ends the session in that
// order.
func runHostPipeline(ctx context.Context, cfg *config.AppConfig, reg *client.RegistryClient, mgr *peer.Manager, competitionID, userID string) func() {
	local := compositor.NewPatternSource(cfg.Broadcast.Width/2, cfg.Broadcast.Height)
	remote := compositor.NewLatestFrameSource()

	comp := compositor.New(cfg.Broadcast, local, remote)
	up := uploader.New(cfg.Upload, competitionID)
	up.OnUploaded = comp.NotifyUploaded
	up.OnError = func(seq uint64, err error) {
		slog.Error("chunk delivery failed", "seq", seq, "error", err)
	}

	go up.Run(ctx, comp.Chunks())
	comp.StartCompositing()

	var goLive sync.Once
	mgr.OnStateChange = func(s peer.State) {
		slog.Info("connection state", "state", s)
		if s != peer.StateConnected {
			return
		}
		goLive.Do(func() {
			comp.StartRecording()
			resp, err := reg.GoLive(competitionID, userID)
			if err != nil {
				slog.Error("go live failed", "error", err)
				return
			}
			slog.Info("broadcast live", "distributionURL", resp.DistributionURL)
		})
	}

	// Remote RTP decode is handled upstream; feed a stand-in frame
	// stream into the remote half once the tracks arrive.
	mgr.OnRemoteStream = func(rs *peer.RemoteStream) {
		slog.Info("remote stream up", "tracks", len(rs.Tracks()))
		go feedRemoteStandIn(ctx, remote, cfg.Broadcast)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			comp.Destroy()
			if err := up.Finalize(); err != nil {
				slog.Error("finalize failed", "error", err)
			}
			if resp, err := reg.EndSession(competitionID, userID); err != nil {
				slog.Error("end session failed", "error", err)
			} else {
				slog.Info("session ended", "recordedAssetURL", resp.RecordedAssetURL, "alreadyEnded", resp.AlreadyEnded)
			}
			mgr.Disconnect()
		})
	}
}

func feedRemoteStandIn(ctx context.Context, sink *compositor.LatestFrameSource, cfg config.BroadcastConfig) {
	pattern := compositor.NewPatternSource(cfg.Width/2, cfg.Height)
	ticker := time.NewTicker(time.Second / time.Duration(cfg.FrameRate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if frame, ok := pattern.NextFrame(); ok {
				sink.Push(frame)
			}
		}
	}
}

func resolveRole(override, apiURL, competitionID, userID string) (domain.Role, error) {
	switch override {
	case "host":
		return domain.RoleHost, nil
	case "opponent":
		return domain.RoleOpponent, nil
	case "viewer":
		return domain.RoleViewer, nil
	case "":
	default:
		return "", domain.ErrInvalidRole
	}
	if apiURL == "" {
		return "", errors.New("either -role or -competition-api is required")
	}
	comp, err := competition.NewHTTPService(apiURL, 10*time.Second).GetCompetition(competitionID)
	if err != nil {
		return "", err
	}
	return domain.ResolveRole(comp.CreatorID, comp.OpponentID, userID), nil
}

// runViewer attaches the playback adapter to the competition's
// distribution URL and logs state transitions until interrupted.
func runViewer(ctx context.Context, cfg *config.AppConfig, competitionID string) {
	streamURL := fmt.Sprintf("%s/streams/%s/live.m3u8", cfg.Upload.Endpoint, competitionID)

	adapter := playback.New(cfg.WebRTC.StatusPollInterval, cfg.Upload.RequestTimeout)
	adapter.OnStateChange = func(s playback.State) {
		slog.Info("playback state", "state", s, "segments", adapter.SegmentCount())
	}

	slog.Info("watching stream", "url", streamURL)
	adapter.AttachLive(ctx, streamURL)
}
