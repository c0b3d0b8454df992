package capture

import (
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// Playback replays in-memory frames. Without looping it is a bounded source
// that ends with io.EOF; with looping it behaves like a camera.
type Playback struct {
	frames  []*gocv.Mat
	index   int
	loop    bool
	mu      sync.Mutex
	running bool
	closes  int
}

// NewPlayback creates a Playback over frames. The frames stay owned by the caller.
func NewPlayback(frames []*gocv.Mat, loop bool) *Playback {
	return &Playback{
		frames: frames,
		loop:   loop,
	}
}

func (p *Playback) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.index = 0
	return nil
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.closes++
	return nil
}

// ReadFrame returns a clone of the next frame.
func (p *Playback) ReadFrame() (*gocv.Mat, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, ErrSourceNotOpen
	}

	if p.index >= len(p.frames) {
		if !p.loop || len(p.frames) == 0 {
			return nil, io.EOF
		}
		p.index = 0
	}

	frame := p.frames[p.index].Clone()
	p.index++

	return &frame, nil
}

func (p *Playback) Bounded() bool { return !p.loop }

// Closes returns how many times Close was called.
func (p *Playback) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Reset restarts playback from the beginning
func (p *Playback) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.index = 0
}
