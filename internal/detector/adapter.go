package detector

import (
	"errors"
	"time"
)

// ErrNoDetection is returned when a frame has no pose whose required joints
// are confidently detected. The frame should be skipped.
var ErrNoDetection = errors.New("no usable pose detection")

// FrameRef identifies the frame a record was built from.
type FrameRef struct {
	Index     int64
	Timestamp time.Duration
}

// JointRecord holds the confidently detected joints of one frame.
// It is never modified after Adapt returns it.
type JointRecord struct {
	Frame  FrameRef
	joints map[Joint]Landmark
}

// NewJointRecord builds a record from explicit landmarks. Landmarks are
// taken as-is, without a confidence filter.
func NewJointRecord(frame FrameRef, joints map[Joint]Landmark) JointRecord {
	copied := make(map[Joint]Landmark, len(joints))
	for j, lm := range joints {
		copied[j] = lm
	}
	return JointRecord{Frame: frame, joints: copied}
}

// Joint returns the landmark for j and whether it was detected.
func (r JointRecord) Joint(j Joint) (Landmark, bool) {
	lm, ok := r.joints[j]
	return lm, ok
}

// Len returns the number of joints in the record.
func (r JointRecord) Len() int {
	return len(r.joints)
}

// Has reports whether every joint in set is present.
func (r JointRecord) Has(set JointSet) bool {
	for _, j := range set {
		if _, ok := r.joints[j]; !ok {
			return false
		}
	}
	return true
}

// MinConfidence returns the lowest visibility among the joints in set.
// The second return value is false if any joint is missing.
func (r JointRecord) MinConfidence(set JointSet) (float64, bool) {
	lowest := 1.0
	for _, j := range set {
		lm, ok := r.joints[j]
		if !ok {
			return 0, false
		}
		if lm.Visibility < lowest {
			lowest = lm.Visibility
		}
	}
	return lowest, true
}

// Adapter converts raw detector output into JointRecords.
type Adapter struct {
	minConfidence float64
}

// NewAdapter creates an Adapter that drops joints below minConfidence.
// Values outside (0, 1] fall back to the default of 0.5.
func NewAdapter(minConfidence float64) *Adapter {
	if minConfidence <= 0 || minConfidence > 1 {
		minConfidence = DefaultConfig().MinConfidence
	}
	return &Adapter{minConfidence: minConfidence}
}

// MinConfidence returns the confidence threshold in effect.
func (a *Adapter) MinConfidence() float64 {
	return a.minConfidence
}

// Adapt selects the most confident pose and returns the record of its
// confidently detected joints. At least one of the required sets must be
// complete, otherwise ErrNoDetection is returned. With no required sets any
// non-empty record is accepted.
func (a *Adapter) Adapt(poses []Pose, frame FrameRef, required ...JointSet) (JointRecord, error) {
	if len(poses) == 0 {
		return JointRecord{}, ErrNoDetection
	}

	best := 0
	for i := 1; i < len(poses); i++ {
		if poses[i].Score > poses[best].Score {
			best = i
		}
	}
	pose := &poses[best]

	joints := make(map[Joint]Landmark, len(jointIndex))
	for j, idx := range jointIndex {
		lm := pose.Landmarks[idx]
		if lm.Visibility >= a.minConfidence {
			joints[j] = lm
		}
	}

	rec := JointRecord{Frame: frame, joints: joints}
	if len(joints) == 0 {
		return JointRecord{}, ErrNoDetection
	}
	if len(required) == 0 {
		return rec, nil
	}
	for _, set := range required {
		if rec.Has(set) {
			return rec, nil
		}
	}

	return JointRecord{}, ErrNoDetection
}
