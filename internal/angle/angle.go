// Package angle computes joint angles from joint records.
package angle

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/exercise"
)

// ErrAngleUnavailable is returned when a required joint is missing or the
// geometry is degenerate. The frame should be skipped.
var ErrAngleUnavailable = errors.New("angle unavailable")

// minSegment is the shortest limb segment, in normalized units, that still
// defines a direction.
const minSegment = 1e-9

// Between returns the angle at b, in degrees within [0, 180], formed by the
// vectors from b to a and from b to c.
func Between(a, b, c r3.Vec) (float64, error) {
	ba := r3.Sub(a, b)
	bc := r3.Sub(c, b)

	na, nc := r3.Norm(ba), r3.Norm(bc)
	if na < minSegment || nc < minSegment {
		return 0, fmt.Errorf("%w: zero-length segment", ErrAngleUnavailable)
	}

	cos := r3.Dot(ba, bc) / (na * nc)
	cos = math.Max(-1, math.Min(1, cos))

	return math.Acos(cos) * 180 / math.Pi, nil
}

// Sample is the set of angles measured on one frame.
type Sample struct {
	Frame   detector.FrameRef  `json:"frame"`
	Side    detector.Side      `json:"side"`
	Primary string             `json:"primary"`
	Angles  map[string]float64 `json:"angles"`
}

// Value returns the primary angle.
func (s Sample) Value() float64 {
	return s.Angles[s.Primary]
}

// Extract computes every angle defined by the profile on the side selected by
// its side policy.
func Extract(rec detector.JointRecord, p exercise.Profile) (Sample, error) {
	side, ok := pickSide(rec, p)
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s joints missing", ErrAngleUnavailable, p.ID)
	}

	sample := Sample{
		Frame:   rec.Frame,
		Side:    side,
		Primary: p.Primary,
		Angles:  make(map[string]float64, len(p.Angles)),
	}

	for _, def := range p.Angles {
		pts := make([]r3.Vec, 3)
		for i, kind := range def.Kinds() {
			lm, ok := rec.Joint(detector.Joint{Side: side, Kind: kind})
			if !ok {
				return Sample{}, fmt.Errorf("%w: %s_%s missing", ErrAngleUnavailable, side, kind)
			}
			pts[i] = project(lm.Point3D, p.Projection)
		}

		deg, err := Between(pts[0], pts[1], pts[2])
		if err != nil {
			return Sample{}, fmt.Errorf("%s angle: %w", def.Name, err)
		}
		sample.Angles[def.Name] = deg
	}

	return sample, nil
}

// pickSide returns the side to measure on. With SideAuto the complete side
// with the higher minimum confidence wins, left on ties.
func pickSide(rec detector.JointRecord, p exercise.Profile) (detector.Side, bool) {
	kinds := p.Kinds()

	var (
		best     detector.Side
		bestConf = -1.0
	)
	for _, side := range p.Sides() {
		conf, ok := rec.MinConfidence(detector.SideSet(side, kinds...))
		if ok && conf > bestConf {
			best, bestConf = side, conf
		}
	}

	return best, bestConf >= 0
}

func project(p detector.Point3D, proj exercise.Projection) r3.Vec {
	if proj == exercise.Projection3D {
		return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
	}
	return r3.Vec{X: p.X, Y: p.Y}
}
