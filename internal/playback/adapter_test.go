package playback

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const livePlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.000,
seg-0.ts
#EXTINF:10.000,
seg-1.ts
`

const endedPlaylist = livePlaylist + "#EXT-X-ENDLIST\n"

const emptyPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
`

// playlistStub serves a swappable playlist body, or 404 until one is set.
type playlistStub struct {
	mu   sync.Mutex
	body string
}

func (s *playlistStub) set(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *playlistStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		body := s.body
		s.mu.Unlock()
		if body == "" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(body))
	})
}

func waitForState(t *testing.T, a *Adapter, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a.CurrentState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state %q never reached, stuck at %q", want, a.CurrentState())
}

func TestAttachLive_NotReadyUntilSegmentsExist(t *testing.T) {
	stub := &playlistStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	a := New(10*time.Millisecond, time.Second)
	var transitions []State
	var mu sync.Mutex
	a.OnStateChange = func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.AttachLive(ctx, srv.URL+"/streams/comp-1/live.m3u8")

	// 404 now, then an empty playlist: both are "not ready".
	waitForState(t, a, StateNotReady, time.Second)
	stub.set(emptyPlaylist)
	time.Sleep(50 * time.Millisecond)
	if got := a.CurrentState(); got != StateNotReady {
		t.Fatalf("empty playlist should stay not_ready, got %q", got)
	}

	// Segments appear: the same attachment becomes playable.
	stub.set(livePlaylist)
	waitForState(t, a, StatePlaying, time.Second)
	if a.SegmentCount() != 2 {
		t.Errorf("segment count %d, want 2", a.SegmentCount())
	}

	// The host ends the session; the closed playlist ends playback.
	stub.set(endedPlaylist)
	waitForState(t, a, StateEnded, time.Second)

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateNotReady, StatePlaying, StateEnded}
	if len(transitions) != len(want) {
		t.Fatalf("transitions %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions %v, want %v", transitions, want)
		}
	}
}

func TestAttachLive_MalformedPlaylistDoesNotCrash(t *testing.T) {
	stub := &playlistStub{}
	stub.set("this is not a playlist")
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	a := New(10*time.Millisecond, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	a.AttachLive(ctx, srv.URL+"/live.m3u8")

	if got := a.CurrentState(); got != StateNotReady {
		t.Errorf("malformed playlist state %q, want not_ready", got)
	}
}

func TestAttachVod(t *testing.T) {
	stub := &playlistStub{}
	stub.set(endedPlaylist)
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	a := New(time.Second, time.Second)
	if err := a.AttachVod(srv.URL + "/vod.m3u8"); err != nil {
		t.Fatalf("attach vod: %v", err)
	}
	if a.CurrentState() != StateEnded {
		t.Errorf("vod state %q, want ended", a.CurrentState())
	}
	if a.SegmentCount() != 2 {
		t.Errorf("segment count %d, want 2", a.SegmentCount())
	}
}

func TestAttachVod_MissingManifest(t *testing.T) {
	stub := &playlistStub{}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	a := New(time.Second, time.Second)
	if err := a.AttachVod(srv.URL + "/vod.m3u8"); err == nil {
		t.Fatal("expected error for missing manifest")
	}
	if a.CurrentState() != StateNotReady {
		t.Errorf("state %q, want not_ready", a.CurrentState())
	}
}
