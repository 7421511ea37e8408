package compositor

import (
	"testing"
	"time"

	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
)

func testConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		FrameRate:       30,
		SegmentDuration: 40 * time.Millisecond,
		Width:           64,
		Height:          36,
		ChunkQueueSize:  4,
	}
}

func collect(t *testing.T, chunks <-chan domain.Chunk, n int, timeout time.Duration) []domain.Chunk {
	t.Helper()
	var out []domain.Chunk
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatalf("collected %d chunks, want %d", len(out), n)
		}
	}
	return out
}

func TestSegments_GapFreeMonotonic(t *testing.T) {
	c := New(testConfig(), NewPatternSource(32, 36), NewPatternSource(32, 36))
	defer c.Destroy()

	c.StartCompositing()
	c.StartRecording()

	chunks := collect(t, c.Chunks(), 3, 2*time.Second)
	for i, chunk := range chunks {
		if chunk.Seq != uint64(i) {
			t.Errorf("chunk %d has seq %d", i, chunk.Seq)
		}
	}
}

func TestStartRecording_BeforeCompositingIgnored(t *testing.T) {
	c := New(testConfig(), NewPatternSource(32, 36), NewPatternSource(32, 36))
	defer c.Destroy()

	c.StartRecording()
	c.StartCompositing()

	// Recording never started, so segment boundaries produce nothing.
	select {
	case chunk := <-c.Chunks():
		t.Fatalf("unexpected chunk seq %d", chunk.Seq)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSegments_CutWithoutRemoteFrames(t *testing.T) {
	// The remote side never delivers; the placeholder still records.
	c := New(testConfig(), NewPatternSource(32, 36), NewLatestFrameSource())
	defer c.Destroy()

	c.StartCompositing()
	c.StartRecording()

	chunks := collect(t, c.Chunks(), 1, 2*time.Second)
	if len(chunks[0].Payload) == 0 {
		t.Error("placeholder segment should still carry frames")
	}
}

func TestDestroy_FlushesFinalSegmentAndCloses(t *testing.T) {
	cfg := testConfig()
	cfg.SegmentDuration = time.Hour // never cut on the ticker
	c := New(cfg, NewPatternSource(32, 36), NewPatternSource(32, 36))

	c.StartCompositing()
	c.StartRecording()
	time.Sleep(200 * time.Millisecond) // accumulate frames into the open segment

	c.Destroy()
	c.Destroy() // second call is a no-op

	chunks := collect(t, c.Chunks(), 1, time.Second)
	if chunks[0].Seq != 0 {
		t.Errorf("final chunk seq %d, want 0", chunks[0].Seq)
	}
	if len(chunks[0].Payload) == 0 {
		t.Error("final chunk should carry the partial segment")
	}
	if _, ok := <-c.Chunks(); ok {
		t.Error("chunk channel should be closed after Destroy")
	}
	if c.SequenceCount() != 1 {
		t.Errorf("sequence count %d, want 1", c.SequenceCount())
	}
}

func TestDestroy_WithoutStartIsSafe(t *testing.T) {
	c := New(testConfig(), NewPatternSource(32, 36), NewPatternSource(32, 36))
	c.Destroy()
	if _, ok := <-c.Chunks(); ok {
		t.Error("chunk channel should be closed")
	}
}

func TestNotifyUploaded_RelaysToCallback(t *testing.T) {
	c := New(testConfig(), NewPatternSource(32, 36), NewPatternSource(32, 36))
	defer c.Destroy()

	var got []uint64
	c.OnChunkUploaded = func(seq uint64) { got = append(got, seq) }
	c.NotifyUploaded(7)
	if len(got) != 1 || got[0] != 7 {
		t.Errorf("callback got %v, want [7]", got)
	}
}

func TestLatestFrameSource_EmptyUntilPush(t *testing.T) {
	src := NewLatestFrameSource()
	if _, ok := src.NextFrame(); ok {
		t.Fatal("expected no frame before first push")
	}
	frame, _ := NewPatternSource(8, 8).NextFrame()
	src.Push(frame)
	if got, ok := src.NextFrame(); !ok || got != frame {
		t.Fatal("expected the pushed frame")
	}
}
