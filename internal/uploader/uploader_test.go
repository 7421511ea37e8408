package uploader

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
)

// ingestStub simulates the transcoding endpoint. failSeqs lists chunk
// sequence numbers that always answer 500; failFirst makes every chunk
// fail that many times before accepting.
type ingestStub struct {
	mu        sync.Mutex
	failSeqs  map[string]bool
	failFirst int
	tries     map[string]int
	received  []string
	finalized int
}

func newIngestStub() *ingestStub {
	return &ingestStub{failSeqs: map[string]bool{}, tries: map[string]int{}}
}

func (s *ingestStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if strings.HasSuffix(r.URL.Path, "/finalize") {
			s.finalized++
			if s.finalized > 1 {
				w.WriteHeader(http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		parts := strings.Split(r.URL.Path, "/")
		seq := parts[len(parts)-1]
		s.tries[seq]++
		if s.failSeqs[seq] || s.tries[seq] <= s.failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		s.received = append(s.received, seq)
		w.WriteHeader(http.StatusCreated)
	})
}

func testUploader(endpoint string) *Uploader {
	return New(config.UploadConfig{
		Endpoint:       endpoint,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		RequestTimeout: time.Second,
	}, "sess-1")
}

func TestUpload_RetriesThenSucceeds(t *testing.T) {
	stub := newIngestStub()
	stub.failFirst = 2
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	u := testUploader(srv.URL)
	var acked []uint64
	u.OnUploaded = func(seq uint64) { acked = append(acked, seq) }

	if err := u.Upload(domain.Chunk{Seq: 0, Payload: []byte("seg")}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(acked) != 1 || acked[0] != 0 {
		t.Errorf("acked %v, want [0]", acked)
	}
	log := u.SequenceLog()
	if len(log) != 1 || !log[0].Delivered || log[0].Attempts != 3 {
		t.Errorf("sequence log %+v, want one delivered entry after 3 attempts", log)
	}
}

func TestUpload_ExhaustedBudgetDoesNotBlockLaterChunks(t *testing.T) {
	stub := newIngestStub()
	stub.failSeqs["2"] = true
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	u := testUploader(srv.URL)
	var failed []uint64
	u.OnError = func(seq uint64, err error) { failed = append(failed, seq) }

	chunks := make(chan domain.Chunk, 4)
	for seq := uint64(1); seq <= 4; seq++ {
		chunks <- domain.Chunk{Seq: seq, Payload: []byte("seg")}
	}
	close(chunks)
	u.Run(context.Background(), chunks)

	if len(failed) != 1 || failed[0] != 2 {
		t.Fatalf("failed %v, want [2]", failed)
	}

	stub.mu.Lock()
	received := append([]string(nil), stub.received...)
	stub.mu.Unlock()
	want := []string{"1", "3", "4"}
	if len(received) != len(want) {
		t.Fatalf("endpoint received %v, want %v", received, want)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Fatalf("endpoint received %v, want %v", received, want)
		}
	}

	// The sequence log stays gap-free: every seq has an outcome.
	log := u.SequenceLog()
	if len(log) != 4 {
		t.Fatalf("sequence log has %d entries, want 4", len(log))
	}
	for i, res := range log {
		if res.Seq != uint64(i+1) {
			t.Errorf("log entry %d has seq %d", i, res.Seq)
		}
		if wantDelivered := res.Seq != 2; res.Delivered != wantDelivered {
			t.Errorf("seq %d delivered=%v", res.Seq, res.Delivered)
		}
	}
}

func TestUpload_FailureWrapsSentinel(t *testing.T) {
	stub := newIngestStub()
	stub.failSeqs["0"] = true
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	u := testUploader(srv.URL)
	err := u.Upload(domain.Chunk{Seq: 0})
	if !errors.Is(err, domain.ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	stub := newIngestStub()
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	u := testUploader(srv.URL)
	if err := u.Finalize(); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !u.Sealed() {
		t.Fatal("uploader should be sealed")
	}
	// Local latch: the endpoint is not contacted again.
	if err := u.Finalize(); err != nil {
		t.Fatalf("re-finalize: %v", err)
	}
	stub.mu.Lock()
	finalized := stub.finalized
	stub.mu.Unlock()
	if finalized != 1 {
		t.Errorf("endpoint finalized %d times, want 1", finalized)
	}
}

func TestFinalize_ConflictMeansAlreadySealed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	u := testUploader(srv.URL)
	if err := u.Finalize(); err != nil {
		t.Fatalf("finalize on 409: %v", err)
	}
	if !u.Sealed() {
		t.Fatal("409 should seal locally")
	}
}

func TestFinalize_ServerErrorReported(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	u := testUploader(srv.URL)
	err := u.Finalize()
	if !errors.Is(err, domain.ErrFinalizeFailed) {
		t.Fatalf("expected ErrFinalizeFailed, got %v", err)
	}
	if u.Sealed() {
		t.Fatal("failed finalize must not seal")
	}
}
