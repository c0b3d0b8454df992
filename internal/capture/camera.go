// Package capture provides frame sources backed by GoCV (OpenCV): live
// cameras, video files and in-memory playback.
package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 15
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrSourceNotOpen is returned when reading from a source that is not open.
var ErrSourceNotOpen = errors.New("frame source is not open")

// Source is a sequence of frames. Bounded sources return io.EOF from
// ReadFrame once exhausted; unbounded sources never end on their own.
// The caller owns, and must close, every returned Mat.
type Source interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	Bounded() bool
}

// Camera is a live, unbounded frame source.
type Camera interface {
	Source
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Device is the part of a video capture device a camera drives.
// *gocv.VideoCapture implements it.
type Device interface {
	Read(m *gocv.Mat) bool
	Set(prop gocv.VideoCaptureProperties, param float64)
	Close() error
}

// DeviceOpener opens the capture device with the given index.
type DeviceOpener func(index int) (Device, error)

func openVideoDevice(index int) (Device, error) {
	vc, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return nil, err
	}
	return vc, nil
}

type camera struct {
	index  int
	opener DeviceOpener

	mu     sync.Mutex
	device Device
	fps    int
}

// NewCamera returns a camera on the webcam with the given index.
func NewCamera(index int) Camera {
	return NewCameraFrom(index, openVideoDevice)
}

// NewCameraFrom returns a camera that opens its device with open.
func NewCameraFrom(index int, open DeviceOpener) Camera {
	return &camera{index: index, opener: open, fps: DefaultFPS}
}

// Open starts capture at DefaultWidth x DefaultHeight and the configured
// rate. Opening an open camera does nothing.
func (c *camera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return nil
	}

	device, err := c.opener(c.index)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", c.index, err)
	}
	device.Set(gocv.VideoCaptureFrameWidth, DefaultWidth)
	device.Set(gocv.VideoCaptureFrameHeight, DefaultHeight)
	device.Set(gocv.VideoCaptureFPS, float64(c.fps))

	c.device = device
	return nil
}

func (c *camera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}
	err := c.device.Close()
	c.device = nil
	return err
}

// ReadFrame grabs the next frame. Webcams hand out empty frames while they
// warm up; those come back as an empty Mat for the caller to skip. Only a
// failed grab is an error.
func (c *camera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil, ErrSourceNotOpen
	}

	mat := gocv.NewMat()
	if !c.device.Read(&mat) {
		mat.Close()
		return nil, fmt.Errorf("camera %d: grab failed", c.index)
	}
	return &mat, nil
}

func (c *camera) Bounded() bool { return false }

// SetFPS changes the capture rate, also on an open device. Non-positive
// rates are ignored.
func (c *camera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps
	if c.device != nil {
		c.device.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

func (c *camera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device != nil
}
