package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// LocalStream is the acquired local track set sent to the counterpart.
type LocalStream struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample
}

// MediaSource is the camera/microphone acquisition strategy. The
// synthetic variant keeps negotiation testable without hardware.
// Release must be idempotent; a leaked capture handle is a defect.
type MediaSource interface {
	Acquire(ctx context.Context) (*LocalStream, error)
	Release()
}

// SyntheticSource generates a deterministic sample stream. Frames
// are seeded noise, so two runs with the same seed produce identical
// payloads.
type SyntheticSource struct {
	FrameRate int
	Seed      int64

	mu     sync.Mutex
	cancel context.CancelFunc
	stream *LocalStream
}

func NewSyntheticSource(frameRate int, seed int64) *SyntheticSource {
	if frameRate <= 0 {
		frameRate = 15
	}
	return &SyntheticSource{FrameRate: frameRate, Seed: seed}
}

func (s *SyntheticSource) Acquire(ctx context.Context) (*LocalStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return s.stream, nil
	}

	streamID := "synthetic-" + uuid.NewString()
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stream = &LocalStream{Audio: audio, Video: video}

	go s.writeLoop(writerCtx, video, audio)
	return s.stream, nil
}

func (s *SyntheticSource) writeLoop(ctx context.Context, video, audio *webrtc.TrackLocalStaticSample) {
	frameDuration := time.Second / time.Duration(s.FrameRate)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(s.Seed))
	videoPayload := make([]byte, 1200)
	audioPayload := make([]byte, 120)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rng.Read(videoPayload)
			rng.Read(audioPayload)
			_ = video.WriteSample(media.Sample{Data: videoPayload, Duration: frameDuration})
			_ = audio.WriteSample(media.Sample{Data: audioPayload, Duration: frameDuration})
		}
	}
}

func (s *SyntheticSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stream = nil
}

// FileSource replays a pre-recorded IVF video file (and optionally an
// Ogg Opus file) as the local media, the closest stand-in for a real
// capture device the agent supports.
type FileSource struct {
	VideoPath string
	AudioPath string

	mu     sync.Mutex
	cancel context.CancelFunc
	stream *LocalStream
}

func NewFileSource(videoPath, audioPath string) *FileSource {
	return &FileSource{VideoPath: videoPath, AudioPath: audioPath}
}

func (s *FileSource) Acquire(ctx context.Context) (*LocalStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return s.stream, nil
	}

	if _, err := os.Stat(s.VideoPath); err != nil {
		return nil, fmt.Errorf("video file unavailable: %w", err)
	}

	streamID := "file-" + uuid.NewString()
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		return nil, err
	}
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, err
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.stream = &LocalStream{Audio: audio, Video: video}

	go s.replayVideo(writerCtx, video)
	if s.AudioPath != "" {
		go s.replayAudio(writerCtx, audio)
	}
	return s.stream, nil
}

func (s *FileSource) replayVideo(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	file, err := os.Open(s.VideoPath)
	if err != nil {
		return
	}
	defer file.Close()

	reader, header, err := ivfreader.NewWith(file)
	if err != nil {
		return
	}

	frameDuration := time.Millisecond * time.Duration(float32(header.TimebaseNumerator)/float32(header.TimebaseDenominator)*1000)
	if frameDuration <= 0 {
		frameDuration = time.Second / 30
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame, _, err := reader.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				return
			}
			_ = track.WriteSample(media.Sample{Data: frame, Duration: frameDuration})
		}
	}
}

func (s *FileSource) replayAudio(ctx context.Context, track *webrtc.TrackLocalStaticSample) {
	file, err := os.Open(s.AudioPath)
	if err != nil {
		return
	}
	defer file.Close()

	reader, _, err := oggreader.NewWith(file)
	if err != nil {
		return
	}

	const pageDuration = 20 * time.Millisecond
	ticker := time.NewTicker(pageDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			page, _, err := reader.ParseNextPage()
			if errors.Is(err, io.EOF) {
				return
			} else if err != nil {
				return
			}
			_ = track.WriteSample(media.Sample{Data: page, Duration: pageDuration})
		}
	}
}

func (s *FileSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stream = nil
}
