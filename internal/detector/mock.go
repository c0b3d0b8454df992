package detector

import (
	"math"
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results, either with a fixed
// answer or with a script consumed one frame at a time.
type MockDetector struct {
	mu     sync.Mutex
	poses  []Pose
	script [][]Pose
	err    error
	calls  int
	closed int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetPoses sets the poses returned by Detect once the script is used up.
func (m *MockDetector) SetPoses(poses []Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poses = poses
}

// Enqueue appends per-frame results to the script. A nil entry means
// nobody was detected in that frame.
func (m *MockDetector) Enqueue(frames ...[]Pose) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, frames...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Detect returns the next scripted result, or the pre-configured poses or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]Pose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	return m.poses, nil
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed returns how many times Close was called.
func (m *MockDetector) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close records the call and returns nil.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

// Segment lengths of the synthetic skeleton in normalized image units.
const (
	upperArm = 0.15
	forearm  = 0.14
	thigh    = 0.20
	shin     = 0.19
)

// bend places the end of a segment of the given length so that the angle
// at joint between root and the new point equals deg.
func bend(root, joint Point3D, length, deg float64) Point3D {
	dx, dy := root.X-joint.X, root.Y-joint.Y
	norm := math.Hypot(dx, dy)
	ux, uy := dx/norm, dy/norm

	rad := deg * math.Pi / 180
	cos, sin := math.Cos(rad), math.Sin(rad)
	return Point3D{
		X: joint.X + length*(ux*cos-uy*sin),
		Y: joint.Y + length*(ux*sin+uy*cos),
	}
}

// PoseWithAngles returns a synthetic pose of a person facing the camera with
// both elbows bent to elbowDeg and both knees bent to kneeDeg. All tracked
// joints have visibility 0.95.
func PoseWithAngles(elbowDeg, kneeDeg float64) Pose {
	pose := Pose{Score: 0.9}

	for _, side := range []struct {
		s Side
		x float64
	}{{SideLeft, 0.6}, {SideRight, 0.4}} {
		shoulder := Point3D{X: side.x, Y: 0.30}
		elbow := Point3D{X: side.x, Y: 0.30 + upperArm}
		wrist := bend(shoulder, elbow, forearm, elbowDeg)

		hip := Point3D{X: side.x, Y: 0.55}
		knee := Point3D{X: side.x, Y: 0.55 + thigh}
		ankle := bend(hip, knee, shin, kneeDeg)

		for kind, p := range map[JointKind]Point3D{
			Shoulder: shoulder, Elbow: elbow, Wrist: wrist,
			Hip: hip, Knee: knee, Ankle: ankle,
		} {
			idx, _ := Joint{Side: side.s, Kind: kind}.Index()
			pose.Landmarks[idx] = Landmark{Point3D: p, Visibility: 0.95}
		}
	}

	pose.Landmarks[Nose] = Landmark{Point3D: Point3D{X: 0.5, Y: 0.15}, Visibility: 0.95}
	return pose
}

// StandingPose returns a pose with straight arms and legs.
func StandingPose() Pose {
	return PoseWithAngles(175, 175)
}

// WithVisibility returns a copy of pose with the visibility of the given
// joints replaced.
func WithVisibility(pose Pose, visibility float64, joints ...Joint) Pose {
	for _, j := range joints {
		if idx, ok := j.Index(); ok {
			pose.Landmarks[idx].Visibility = visibility
		}
	}
	return pose
}
