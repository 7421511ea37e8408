package compositor

import (
	"image"
	"image/color"
	"sync"
)

// SourceFunc adapts a function to the FrameSource interface.
type SourceFunc func() (image.Image, bool)

func (f SourceFunc) NextFrame() (image.Image, bool) {
	return f()
}

// PatternSource produces a deterministic moving color pattern. It
// stands in for a decoded camera feed wherever a real decoder is not
// wired, and gives tests stable pixel content.
type PatternSource struct {
	Width  int
	Height int

	mu   sync.Mutex
	tick uint8
}

func NewPatternSource(width, height int) *PatternSource {
	return &PatternSource{Width: width, Height: height}
}

func (p *PatternSource) NextFrame() (image.Image, bool) {
	p.mu.Lock()
	p.tick++
	tick := p.tick
	p.mu.Unlock()

	img := image.NewRGBA(image.Rect(0, 0, p.Width, p.Height))
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x) + tick,
				G: uint8(y) + tick,
				B: tick,
				A: 255,
			})
		}
	}
	return img, true
}

// LatestFrameSource holds the most recent frame pushed by a producer
// (e.g. a track decoder) and serves it to the draw loop. NextFrame
// reports false until the first push.
type LatestFrameSource struct {
	mu    sync.Mutex
	frame image.Image
}

func NewLatestFrameSource() *LatestFrameSource {
	return &LatestFrameSource{}
}

func (s *LatestFrameSource) Push(frame image.Image) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

func (s *LatestFrameSource) NextFrame() (image.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frame == nil {
		return nil, false
	}
	return s.frame, true
}
