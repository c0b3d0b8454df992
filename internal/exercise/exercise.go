// Package exercise holds the per-exercise configuration table: which joints an
// exercise needs, how its angle is measured and where its rep thresholds sit.
// Adding an exercise means adding one Profile.
package exercise

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ayusman/repcoach/internal/detector"
	"github.com/ayusman/repcoach/internal/rep"
)

// ErrUnsupportedExercise is returned for exercise identifiers outside the known set.
var ErrUnsupportedExercise = errors.New("unsupported exercise")

// ID is the canonical exercise identifier.
type ID string

const (
	PushUp        ID = "push_up"
	Squat         ID = "squat"
	ShoulderPress ID = "shoulder_press"
)

// SidePolicy selects which body side an angle is measured on.
type SidePolicy string

const (
	SideLeft  SidePolicy = "left"
	SideRight SidePolicy = "right"
	// SideAuto uses whichever complete side has the higher minimum confidence.
	SideAuto SidePolicy = "auto"
)

// Projection selects whether depth takes part in angle computation.
type Projection string

const (
	// Projection2D measures angles in the image plane.
	Projection2D Projection = "2d"
	// Projection3D includes the estimated depth coordinate.
	Projection3D Projection = "3d"
)

// AngleDef is a three-point angle measured at B between A and C.
type AngleDef struct {
	Name string             `json:"name"`
	A    detector.JointKind `json:"a"`
	B    detector.JointKind `json:"b"`
	C    detector.JointKind `json:"c"`
}

// Kinds returns the joint kinds used by the angle.
func (d AngleDef) Kinds() []detector.JointKind {
	return []detector.JointKind{d.A, d.B, d.C}
}

// Profile is the complete configuration of one exercise.
type Profile struct {
	ID         ID             `json:"id"`
	Name       string         `json:"name"`
	Angles     []AngleDef     `json:"angles"`
	Primary    string         `json:"primary"`
	Side       SidePolicy     `json:"side"`
	Projection Projection     `json:"projection"`
	Thresholds rep.Thresholds `json:"thresholds"`
}

// PrimaryAngle returns the angle that drives the rep counter.
func (p Profile) PrimaryAngle() (AngleDef, bool) {
	for _, a := range p.Angles {
		if a.Name == p.Primary {
			return a, true
		}
	}
	return AngleDef{}, false
}

// Kinds returns the distinct joint kinds needed by all angles, in order of use.
func (p Profile) Kinds() []detector.JointKind {
	var kinds []detector.JointKind
	seen := make(map[detector.JointKind]bool)
	for _, a := range p.Angles {
		for _, k := range a.Kinds() {
			if !seen[k] {
				seen[k] = true
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}

// Sides returns the body sides the profile may measure on.
func (p Profile) Sides() []detector.Side {
	switch p.Side {
	case SideLeft:
		return []detector.Side{detector.SideLeft}
	case SideRight:
		return []detector.Side{detector.SideRight}
	default:
		return []detector.Side{detector.SideLeft, detector.SideRight}
	}
}

// RequiredSets returns the alternative joint sets, one per allowed side, of
// which at least one must be detected for a frame to be usable.
func (p Profile) RequiredSets() []detector.JointSet {
	kinds := p.Kinds()
	sides := p.Sides()
	sets := make([]detector.JointSet, len(sides))
	for i, side := range sides {
		sets[i] = detector.SideSet(side, kinds...)
	}
	return sets
}

// Validate checks that the profile is usable by the pipeline.
func (p Profile) Validate() error {
	if p.ID == "" {
		return errors.New("profile has no id")
	}
	if len(p.Angles) == 0 {
		return fmt.Errorf("%s: no angles defined", p.ID)
	}
	if _, ok := p.PrimaryAngle(); !ok {
		return fmt.Errorf("%s: primary angle %q not defined", p.ID, p.Primary)
	}
	switch p.Side {
	case SideLeft, SideRight, SideAuto:
	default:
		return fmt.Errorf("%s: unknown side %q", p.ID, p.Side)
	}
	switch p.Projection {
	case Projection2D, Projection3D:
	default:
		return fmt.Errorf("%s: unknown projection %q", p.ID, p.Projection)
	}
	if err := p.Thresholds.Validate(); err != nil {
		return fmt.Errorf("%s: %w", p.ID, err)
	}
	return nil
}

var (
	elbowAngle = AngleDef{Name: "elbow", A: detector.Shoulder, B: detector.Elbow, C: detector.Wrist}
	kneeAngle  = AngleDef{Name: "knee", A: detector.Hip, B: detector.Knee, C: detector.Ankle}
)

// Defaults returns the built-in profiles.
func Defaults() []Profile {
	return []Profile{
		{
			ID:         PushUp,
			Name:       "Push Up",
			Angles:     []AngleDef{elbowAngle},
			Primary:    elbowAngle.Name,
			Side:       SideAuto,
			Projection: Projection2D,
			Thresholds: rep.Thresholds{Down: 90, Up: 160},
		},
		{
			ID:         Squat,
			Name:       "Squat",
			Angles:     []AngleDef{kneeAngle},
			Primary:    kneeAngle.Name,
			Side:       SideAuto,
			Projection: Projection2D,
			Thresholds: rep.Thresholds{Down: 100, Up: 160},
		},
		{
			// Same elbow geometry as the push up; down is the bar at the
			// shoulders and up is arms locked out overhead.
			ID:         ShoulderPress,
			Name:       "Shoulder Press",
			Angles:     []AngleDef{elbowAngle},
			Primary:    elbowAngle.Name,
			Side:       SideAuto,
			Projection: Projection2D,
			Thresholds: rep.Thresholds{Down: 80, Up: 165},
		},
	}
}

// Parse normalizes an exercise name. It accepts the canonical identifiers and
// the display names, case-insensitively, with spaces or hyphens in place of
// underscores.
func Parse(name string) (ID, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)

	switch ID(normalized) {
	case PushUp, Squat, ShoulderPress:
		return ID(normalized), nil
	case "pushup":
		return PushUp, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedExercise, name)
}

// Override replaces parts of a profile. Nil or empty fields keep the current value.
type Override struct {
	Down       *float64
	Up         *float64
	Side       SidePolicy
	Projection Projection
}

// Registry is the exercise table in effect for an application.
type Registry struct {
	profiles map[ID]Profile
}

// NewRegistry returns a Registry seeded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[ID]Profile)}
	for _, p := range Defaults() {
		r.profiles[p.ID] = p
	}
	return r
}

// Lookup resolves an exercise name to its profile.
func (r *Registry) Lookup(name string) (Profile, error) {
	id, err := Parse(name)
	if err != nil {
		return Profile{}, err
	}
	p, ok := r.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnsupportedExercise, name)
	}
	return p, nil
}

// Apply changes the profile for name. The result is validated before it
// replaces the current profile.
func (r *Registry) Apply(name string, o Override) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}

	if o.Down != nil {
		p.Thresholds.Down = *o.Down
	}
	if o.Up != nil {
		p.Thresholds.Up = *o.Up
	}
	if o.Side != "" {
		p.Side = o.Side
	}
	if o.Projection != "" {
		p.Projection = o.Projection
	}

	if err := p.Validate(); err != nil {
		return err
	}
	r.profiles[p.ID] = p
	return nil
}

// List returns all profiles ordered by ID.
func (r *Registry) List() []Profile {
	list := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}
