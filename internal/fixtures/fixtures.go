// Package fixtures provides recorded-style angle traces and synthetic frames
// for tests.
package fixtures

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"

	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
)

// Missing marks a frame in a trace without a usable detection.
var Missing = math.NaN()

// Trace is the primary angle of an exercise, frame by frame, and the number
// of reps it contains.
type Trace struct {
	Name     string
	Exercise exercise.ID
	Angles   []float64
	Want     int
}

// Traces returns the reference traces. Thresholds are the built-in defaults.
func Traces() []Trace {
	return []Trace{
		{
			Name:     "push up boundary",
			Exercise: exercise.PushUp,
			Angles:   []float64{180, 90, 30, 90, 180},
			Want:     1,
		},
		{
			Name:     "push up half rep",
			Exercise: exercise.PushUp,
			Angles:   []float64{170, 120, 100, 95, 120, 170},
			Want:     0,
		},
		{
			Name:     "push up set with dropouts",
			Exercise: exercise.PushUp,
			Angles: []float64{
				172, 168, 140, 110, 88, 75, Missing, 82, 120, 150, 163, 170,
				165, 130, 95, 85, 80, 110, Missing, Missing, 158, 161, 170,
				169, 140, 100, 89, 120, 155, 159, 158, 162,
			},
			Want: 3,
		},
		{
			Name:     "squat jitter around down threshold",
			Exercise: exercise.Squat,
			Angles: []float64{
				175, 150, 120, 101, 99, 101, 99, 105, 130, 155, 159, 161,
				160, 140, 100, 130, 150, 170,
			},
			Want: 2,
		},
		{
			Name:     "squat never stands up",
			Exercise: exercise.Squat,
			Angles:   []float64{170, 120, 90, 80, 120, 150, 155, 90, 150},
			Want:     0,
		},
		{
			Name:     "shoulder press",
			Exercise: exercise.ShoulderPress,
			Angles: []float64{
				70, 90, 120, 150, 166, 170, 140, 100, 79, 75, 100, 140, 168,
				150, 110, 85, 90, 140, 165,
			},
			Want: 2,
		},
	}
}

// Poses returns one detector result per angle in tr. Missing angles become
// frames without a detection.
func (tr Trace) Poses() [][]detector.Pose {
	frames := make([][]detector.Pose, len(tr.Angles))
	for i, a := range tr.Angles {
		if math.IsNaN(a) {
			continue
		}
		frames[i] = []detector.Pose{PoseFor(tr.Exercise, a)}
	}
	return frames
}

// Detector returns a mock detector scripted with tr.
func (tr Trace) Detector() *detector.MockDetector {
	d := detector.NewMockDetector()
	d.Enqueue(tr.Poses()...)
	return d
}

// PoseFor returns a pose whose primary angle for ex is angle.
func PoseFor(ex exercise.ID, angle float64) detector.Pose {
	if ex == exercise.Squat {
		return detector.PoseWithAngles(175, angle)
	}
	return detector.PoseWithAngles(angle, 175)
}

// MovingFrames returns n gray frames with a square that moves step pixels
// right on every frame. Frames with step 0 are identical. The caller closes
// the frames.
func MovingFrames(n, width, height, step int) []*gocv.Mat {
	frames := make([]*gocv.Mat, 0, n)
	side := height / 3
	for i := 0; i < n; i++ {
		mat := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8UC1)
		mat.SetTo(gocv.NewScalar(0, 0, 0, 0))
		x := (i * step) % (width - side)
		gocv.Rectangle(&mat, image.Rect(x, side, x+side, 2*side), color.RGBA{255, 255, 255, 0}, -1)
		frames = append(frames, &mat)
	}
	return frames
}

// CloseAll closes every frame.
func CloseAll(frames []*gocv.Mat) {
	for _, f := range frames {
		f.Close()
	}
}
