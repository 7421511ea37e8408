// Package playback is the non-participant path: it attaches an HLS
// player to the distribution URL and degrades to a "stream not ready"
// state while live segments do not exist yet.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/valyala/fasthttp"
)

// State is the viewer-visible playback state.
type State string

const (
	StateIdle     State = "idle"
	StateNotReady State = "not_ready"
	StatePlaying  State = "playing"
	StateEnded    State = "ended"
)

// Adapter polls a live HLS playlist or fetches a sealed VOD manifest.
// It never crashes on a missing or malformed playlist; the viewer just
// sees "stream not available yet".
type Adapter struct {
	client         *fasthttp.Client
	requestTimeout time.Duration
	pollInterval   time.Duration

	mu       sync.Mutex
	state    State
	segments int

	OnStateChange func(State)
}

func New(pollInterval, requestTimeout time.Duration) *Adapter {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Adapter{
		client:         &fasthttp.Client{ReadTimeout: requestTimeout},
		requestTimeout: requestTimeout,
		pollInterval:   pollInterval,
		state:          StateIdle,
	}
}

// AttachLive polls streamURL until ctx is done. While the playlist is
// missing, empty, or unparseable the adapter reports not_ready; once
// segments exist the same URL becomes playable without reattaching.
func (a *Adapter) AttachLive(ctx context.Context, streamURL string) {
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	a.probeLive(streamURL)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.probeLive(streamURL)
		}
	}
}

func (a *Adapter) probeLive(streamURL string) {
	playlist, err := a.fetchPlaylist(streamURL)
	if err != nil {
		slog.Debug("live playlist not available yet", "url", streamURL, "error", err)
		a.setState(StateNotReady, 0)
		return
	}

	count := segmentCount(playlist)
	if count == 0 {
		a.setState(StateNotReady, 0)
		return
	}
	if playlist.Closed {
		a.setState(StateEnded, count)
		return
	}
	a.setState(StatePlaying, count)
}

// AttachVod attaches a finalized recording. Distinct from the live
// path: viewers arriving after the session ended are never routed to
// live polling.
func (a *Adapter) AttachVod(assetURL string) error {
	playlist, err := a.fetchPlaylist(assetURL)
	if err != nil {
		a.setState(StateNotReady, 0)
		return fmt.Errorf("fetch vod manifest: %w", err)
	}
	count := segmentCount(playlist)
	if count == 0 {
		a.setState(StateNotReady, 0)
		return fmt.Errorf("vod manifest has no segments")
	}
	a.setState(StateEnded, count)
	return nil
}

func (a *Adapter) fetchPlaylist(url string) (*m3u8.MediaPlaylist, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)

	if err := a.client.DoTimeout(req, resp, a.requestTimeout); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("playlist returned %d", resp.StatusCode())
	}

	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(resp.Body()), true)
	if err != nil {
		return nil, fmt.Errorf("parse playlist: %w", err)
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || listType != m3u8.MEDIA {
		return nil, fmt.Errorf("not a media playlist")
	}
	return media, nil
}

func segmentCount(playlist *m3u8.MediaPlaylist) int {
	count := 0
	for _, seg := range playlist.Segments {
		if seg != nil {
			count++
		}
	}
	return count
}

// CurrentState returns the last observed playback state.
func (a *Adapter) CurrentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SegmentCount returns the segment count of the last good playlist.
func (a *Adapter) SegmentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.segments
}

func (a *Adapter) setState(s State, segments int) {
	a.mu.Lock()
	changed := a.state != s
	a.state = s
	a.segments = segments
	cb := a.OnStateChange
	a.mu.Unlock()

	if changed && cb != nil {
		cb(s)
	}
}
