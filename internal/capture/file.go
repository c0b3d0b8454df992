package capture

import (
	"fmt"
	"io"
	"os"
	"sync"

	"gocv.io/x/gocv"
)

// frameCountSlack absorbs containers whose header overstates the number of
// frames by a few.
const frameCountSlack = 2

// videoReader is the part of *gocv.VideoCapture a VideoFile reads through.
type videoReader interface {
	Read(m *gocv.Mat) bool
	Get(prop gocv.VideoCaptureProperties) float64
	IsOpened() bool
	Close() error
}

func openVideoReader(path string) (videoReader, error) {
	vc, err := gocv.OpenVideoCapture(path)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

// VideoFile is a bounded frame source reading a recorded video.
type VideoFile struct {
	path    string
	open    func(path string) (videoReader, error)
	capture videoReader
	decoded int
	mu      sync.Mutex
}

// NewVideoFile creates a source for the video at path. The file is not
// touched until Open.
func NewVideoFile(path string) *VideoFile {
	return &VideoFile{path: path, open: openVideoReader}
}

// Open opens the video container.
func (v *VideoFile) Open() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture != nil {
		return nil
	}

	if _, err := os.Stat(v.path); err != nil {
		return fmt.Errorf("open video: %w", err)
	}

	capture, err := v.open(v.path)
	if err != nil {
		return fmt.Errorf("open video %s: %w", v.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open video %s: unsupported container or codec", v.path)
	}

	v.capture = capture
	v.decoded = 0
	return nil
}

// Close releases the video.
func (v *VideoFile) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return nil
	}
	err := v.capture.Close()
	v.capture = nil
	return err
}

// ReadFrame returns the next decoded frame, or io.EOF at the end of the video.
// A frame that fails to decode well before the end the container reports is
// an error, not the end.
func (v *VideoFile) ReadFrame() (*gocv.Mat, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return nil, ErrSourceNotOpen
	}

	mat := gocv.NewMat()
	if ok := v.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		total := int(v.capture.Get(gocv.VideoCaptureFrameCount))
		if total > 0 && v.decoded+frameCountSlack < total {
			return nil, fmt.Errorf("decode %s: frame %d of %d", v.path, v.decoded, total)
		}
		return nil, io.EOF
	}

	v.decoded++
	return &mat, nil
}

// Bounded is true: a file ends.
func (v *VideoFile) Bounded() bool {
	return true
}

// FPS returns the frame rate recorded in the container, or 0 if unknown
// or the file is not open.
func (v *VideoFile) FPS() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return v.capture.Get(gocv.VideoCaptureFPS)
}

// FrameCount returns the number of frames the container reports.
func (v *VideoFile) FrameCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.capture == nil {
		return 0
	}
	return int(v.capture.Get(gocv.VideoCaptureFrameCount))
}

// Path returns the file path.
func (v *VideoFile) Path() string {
	return v.path
}
