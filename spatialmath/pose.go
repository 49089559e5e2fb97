// Package spatialmath implements the small amount of pose and quaternion
// math the navigation core needs: the Pose/Path/Velocity data model from
// spec §3 and the quaternion validity invariant goals must satisfy.
package spatialmath

import (
	"time"

	"github.com/golang/geo/r3"
)

// Pose is a timestamped, oriented point in a named frame (spec §3).
type Pose struct {
	FrameID   string
	Timestamp time.Time
	Point     r3.Vector // X, Y, Z in meters
	Orient    Quaternion
}

// NewPose constructs a Pose from raw coordinates and quaternion components.
func NewPose(frameID string, ts time.Time, x, y, z, qx, qy, qz, qw float64) Pose {
	return Pose{
		FrameID:   frameID,
		Timestamp: ts,
		Point:     r3.Vector{X: x, Y: y, Z: z},
		Orient:    Quaternion{QX: qx, QY: qy, QZ: qz, QW: qw},
	}
}

// Path is an ordered, single-frame sequence of poses (spec §3).
type Path struct {
	FrameID string
	Poses   []Pose
}

// Valid reports whether the path is nonempty, the only validity condition
// spec §3 defines for a Path.
func (p Path) Valid() bool { return len(p.Poses) > 0 }

// Start returns the first pose of the path, or the zero Pose if empty.
func (p Path) Start() Pose {
	if len(p.Poses) == 0 {
		return Pose{}
	}
	return p.Poses[0]
}

// End returns the last pose of the path, or the zero Pose if empty.
func (p Path) End() Pose {
	if len(p.Poses) == 0 {
		return Pose{}
	}
	return p.Poses[len(p.Poses)-1]
}

// Velocity is a body-frame velocity command (spec §3).
type Velocity struct {
	Vx, Vy float64 // m/s, robot base frame
	Wz     float64 // rad/s
}

// Zero is the all-stop velocity command.
var Zero = Velocity{}

// IsZero reports whether v commands no motion at all.
func (v Velocity) IsZero() bool { return v.Vx == 0 && v.Vy == 0 && v.Wz == 0 }

// Distance returns the planar Euclidean distance between two poses,
// ignoring Z, matching how the FSM's oscillation and frame-change checks
// operate on ground-robot poses.
func Distance(a, b Pose) float64 {
	dx := a.Point.X - b.Point.X
	dy := a.Point.Y - b.Point.Y
	return r3.Vector{X: dx, Y: dy}.Norm()
}
