// Package compositor merges the local and remote video feeds into one
// broadcast frame on a fixed cadence and cuts the result into
// fixed-duration segments for upload. Host side only.
package compositor

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/metrics"
)

// FrameSource yields decoded video frames. NextFrame reports false when
// no frame is currently available; the compositor then keeps the last
// rendered content or the waiting placeholder.
type FrameSource interface {
	NextFrame() (image.Image, bool)
}

// Compositor renders both feeds side by side and emits one Chunk per
// segment boundary. Chunks are handed off through a bounded channel; a
// full channel pauses the hand-off (and with it the draw loop) instead
// of dropping segments.
type Compositor struct {
	cfg    config.BroadcastConfig
	local  FrameSource
	remote FrameSource

	mu          sync.Mutex
	compositing bool
	recording   bool
	destroyed   bool
	seq         uint64
	segment     bytes.Buffer

	canvas *image.RGBA
	scaler xdraw.Scaler

	chunks chan domain.Chunk
	done   chan struct{}
	loopWG sync.WaitGroup

	// OnChunkUploaded is invoked by the session wiring once the
	// uploader confirms delivery of a sequence number. The compositor
	// itself never learns about upload success.
	OnChunkUploaded func(seq uint64)
}

func New(cfg config.BroadcastConfig, local, remote FrameSource) *Compositor {
	return &Compositor{
		cfg:    cfg,
		local:  local,
		remote: remote,
		canvas: image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height)),
		scaler: xdraw.ApproxBiLinear,
		chunks: make(chan domain.Chunk, cfg.ChunkQueueSize),
		done:   make(chan struct{}),
	}
}

// Chunks is the hand-off queue consumed by the uploader.
func (c *Compositor) Chunks() <-chan domain.Chunk {
	return c.chunks
}

// StartCompositing begins the draw loop. Until both sources deliver a
// frame the canvas shows a waiting placeholder. Idempotent.
func (c *Compositor) StartCompositing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compositing || c.destroyed {
		return
	}
	c.compositing = true
	c.loopWG.Add(1)
	go c.drawLoop()
}

// StartRecording begins cutting segments. A call before compositing has
// started is logged and ignored; calling while already recording is a
// no-op.
func (c *Compositor) StartRecording() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.compositing {
		slog.Warn("start recording ignored: compositing has not started")
		return
	}
	if c.recording {
		return
	}
	c.recording = true
	slog.Info("recording started", "segmentDuration", c.cfg.SegmentDuration)
}

func (c *Compositor) drawLoop() {
	defer c.loopWG.Done()

	frameTicker := time.NewTicker(time.Second / time.Duration(c.cfg.FrameRate))
	defer frameTicker.Stop()
	segmentTicker := time.NewTicker(c.cfg.SegmentDuration)
	defer segmentTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-frameTicker.C:
			c.renderFrame()
		case <-segmentTicker.C:
			// A segment closes strictly on the boundary, content or
			// not; the sequence stays gap-free either way.
			if !c.closeSegment() {
				return
			}
		}
	}
}

func (c *Compositor) renderFrame() {
	localFrame, localOK := c.local.NextFrame()
	remoteFrame, remoteOK := c.remote.NextFrame()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	if !localOK || !remoteOK {
		c.drawPlaceholder()
	} else {
		half := c.cfg.Width / 2
		c.scaler.Scale(c.canvas, image.Rect(0, 0, half, c.cfg.Height),
			localFrame, localFrame.Bounds(), xdraw.Over, nil)
		c.scaler.Scale(c.canvas, image.Rect(half, 0, c.cfg.Width, c.cfg.Height),
			remoteFrame, remoteFrame.Bounds(), xdraw.Over, nil)
	}

	if !c.recording {
		return
	}
	// Frames are length-prefixed JPEGs; the transcoding endpoint owns
	// the container format from here on.
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.canvas, &jpeg.Options{Quality: 80}); err != nil {
		slog.Error("frame encode failed", "error", err)
		return
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(buf.Len()))
	c.segment.Write(prefix[:])
	c.segment.Write(buf.Bytes())
}

func (c *Compositor) drawPlaceholder() {
	waiting := color.RGBA{R: 24, G: 24, B: 28, A: 255}
	for y := 0; y < c.cfg.Height; y++ {
		for x := 0; x < c.cfg.Width; x++ {
			c.canvas.SetRGBA(x, y, waiting)
		}
	}
}

// closeSegment cuts the open segment into a chunk and hands it off.
// Blocks while the uploader queue is full. Returns false once the
// compositor is destroyed.
func (c *Compositor) closeSegment() bool {
	c.mu.Lock()
	if c.destroyed || !c.recording {
		c.mu.Unlock()
		return !c.destroyed
	}
	chunk := domain.Chunk{
		Seq:        c.seq,
		Payload:    append([]byte(nil), c.segment.Bytes()...),
		ProducedAt: time.Now(),
	}
	c.seq++
	c.segment.Reset()
	c.mu.Unlock()

	metrics.SegmentsCutTotal.Inc()
	metrics.SegmentBytes.Observe(float64(len(chunk.Payload)))

	select {
	case c.chunks <- chunk:
		return true
	case <-c.done:
		return false
	}
}

// NotifyUploaded relays the uploader's delivery confirmation.
func (c *Compositor) NotifyUploaded(seq uint64) {
	c.mu.Lock()
	cb := c.OnChunkUploaded
	c.mu.Unlock()
	if cb != nil {
		cb(seq)
	}
}

// SequenceCount returns the number of segments emitted so far.
func (c *Compositor) SequenceCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Destroy stops the draw loop, flushes the in-flight segment as a final
// chunk, and releases the canvas. Safe to call twice and on every exit
// path.
func (c *Compositor) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	wasRecording := c.recording
	c.recording = false

	var final *domain.Chunk
	if wasRecording && c.segment.Len() > 0 {
		final = &domain.Chunk{
			Seq:        c.seq,
			Payload:    append([]byte(nil), c.segment.Bytes()...),
			ProducedAt: time.Now(),
		}
		c.seq++
	}
	c.segment.Reset()
	c.canvas = image.NewRGBA(image.Rect(0, 0, 1, 1))
	c.mu.Unlock()

	close(c.done)
	c.loopWG.Wait()

	if final != nil {
		metrics.SegmentsCutTotal.Inc()
		select {
		case c.chunks <- *final:
		default:
			slog.Warn("dropping final segment, uploader queue full", "seq", final.Seq)
		}
	}
	close(c.chunks)
}
