package capture

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Motion detection constants
const (
	// GaussianBlurSize is the kernel size for Gaussian blur (21x21)
	GaussianBlurSize = 21
	// DiffThreshold is the binary threshold for difference detection
	DiffThreshold = 25
)

// MotionGate decides whether a frame differs enough from the last inspected
// frame to be worth running pose detection on. A still subject cannot cross
// a rep threshold, so live sessions use it to save detector time.
//
// Frames are compared with frame differencing after a Gaussian blur.
type MotionGate struct {
	threshold float64
	prevGray  gocv.Mat
	primed    bool
	mu        sync.Mutex
}

// NewMotionGate creates a gate that opens when more than threshold percent
// of the pixels changed. A threshold of 1.0 means 1% of pixels.
func NewMotionGate(threshold float64) *MotionGate {
	return &MotionGate{
		threshold: threshold,
		prevGray:  gocv.NewMat(),
	}
}

// Open reports whether frame should be processed and the percentage of
// pixels that changed. The first frame after construction or Reset always
// opens the gate and becomes the baseline. Nil or empty frames open the
// gate so that the caller decides what to do with them.
func (m *MotionGate) Open(frame *gocv.Mat) (bool, float64) {
	if frame == nil || frame.Empty() {
		return true, 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(*frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Point{X: GaussianBlurSize, Y: GaussianBlurSize}, 0, 0, gocv.BorderDefault)

	if !m.primed || m.prevGray.Rows() != blurred.Rows() || m.prevGray.Cols() != blurred.Cols() {
		blurred.CopyTo(&m.prevGray)
		m.primed = true
		return true, 100
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, m.prevGray, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, DiffThreshold, 255, gocv.ThresholdBinary)

	changePercent := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0

	// Only an open gate moves the baseline, so slow drift still accumulates
	// until it crosses the threshold.
	if changePercent <= m.threshold {
		return false, changePercent
	}
	blurred.CopyTo(&m.prevGray)
	return true, changePercent
}

// Reset forgets the baseline frame.
func (m *MotionGate) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.prevGray.Empty() {
		m.prevGray.Close()
		m.prevGray = gocv.NewMat()
	}
	m.primed = false
}

// Close releases the baseline frame. The gate may be reused afterwards.
func (m *MotionGate) Close() {
	m.Reset()
}

// Threshold returns the change percentage above which the gate opens.
func (m *MotionGate) Threshold() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threshold
}
