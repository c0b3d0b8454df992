package detector

import "gocv.io/x/gocv"

// Detector defines the interface for pose detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns the detected poses.
	// Returns an empty slice if nobody is in frame.
	Detect(frame *gocv.Mat) ([]Pose, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for pose detection.
type Config struct {
	// MinConfidence is the minimum landmark visibility (0.0-1.0) for a joint
	// to be used by the landmark adapter.
	MinConfidence float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0)
	// passed to the pose estimator.
	MinTrackingConf float64

	// ModelComplexity selects the MediaPipe Pose model (0, 1 or 2).
	ModelComplexity int

	// PoseScript is the path of the pose service. Empty searches the usual
	// install locations.
	PoseScript string
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinConfidence:   0.5,
		MinTrackingConf: 0.5,
		ModelComplexity: 1,
	}
}
