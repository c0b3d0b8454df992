// Package detector provides pose detection interfaces, the body landmark types
// produced by a pose estimator, and the adapter that turns raw detections into
// joint records.
package detector

import "fmt"

// Pose landmark indices following the MediaPipe Pose convention.
// See: https://developers.google.com/mediapipe/solutions/vision/pose_landmarker
const (
	Nose          = 0
	LeftShoulder  = 11
	RightShoulder = 12
	LeftElbow     = 13
	RightElbow    = 14
	LeftWrist     = 15
	RightWrist    = 16
	LeftHip       = 23
	RightHip      = 24
	LeftKnee      = 25
	RightKnee     = 26
	LeftAnkle     = 27
	RightAnkle    = 28
	NumLandmarks  = 33
)

// Point3D represents a 3D point with x, y in normalized image coordinates
// and z as depth relative to the hips.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Landmark is a single tracked body point and the detector's confidence
// that it is visible.
type Landmark struct {
	Point3D
	Visibility float64 `json:"visibility"`
}

// Pose represents the 33 body landmarks detected by MediaPipe Pose for one person.
type Pose struct {
	Landmarks [NumLandmarks]Landmark `json:"landmarks"`
	Score     float64                `json:"score"`
}

// Side is the body side a joint belongs to.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// JointKind names an anatomical joint independent of side.
type JointKind string

const (
	Shoulder JointKind = "shoulder"
	Elbow    JointKind = "elbow"
	Wrist    JointKind = "wrist"
	Hip      JointKind = "hip"
	Knee     JointKind = "knee"
	Ankle    JointKind = "ankle"
)

// Joint identifies one tracked joint, e.g. the left elbow.
type Joint struct {
	Side Side
	Kind JointKind
}

func (j Joint) String() string {
	return fmt.Sprintf("%s_%s", j.Side, j.Kind)
}

var jointIndex = map[Joint]int{
	{SideLeft, Shoulder}:  LeftShoulder,
	{SideRight, Shoulder}: RightShoulder,
	{SideLeft, Elbow}:     LeftElbow,
	{SideRight, Elbow}:    RightElbow,
	{SideLeft, Wrist}:     LeftWrist,
	{SideRight, Wrist}:    RightWrist,
	{SideLeft, Hip}:       LeftHip,
	{SideRight, Hip}:      RightHip,
	{SideLeft, Knee}:      LeftKnee,
	{SideRight, Knee}:     RightKnee,
	{SideLeft, Ankle}:     LeftAnkle,
	{SideRight, Ankle}:    RightAnkle,
}

// Index returns the MediaPipe landmark index of the joint.
// The second return value is false for unknown joints.
func (j Joint) Index() (int, bool) {
	idx, ok := jointIndex[j]
	return idx, ok
}

// AllJoints returns every tracked joint, left side first.
func AllJoints() []Joint {
	kinds := []JointKind{Shoulder, Elbow, Wrist, Hip, Knee, Ankle}
	joints := make([]Joint, 0, 2*len(kinds))
	for _, side := range []Side{SideLeft, SideRight} {
		for _, kind := range kinds {
			joints = append(joints, Joint{Side: side, Kind: kind})
		}
	}
	return joints
}

// JointSet is a group of joints that must all be present for a computation.
type JointSet []Joint

// SideSet builds the JointSet of the given kinds on one side.
func SideSet(side Side, kinds ...JointKind) JointSet {
	set := make(JointSet, len(kinds))
	for i, kind := range kinds {
		set[i] = Joint{Side: side, Kind: kind}
	}
	return set
}
