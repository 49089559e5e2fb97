package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"github.com/Beginner-zzm/navigation/naverrors"
)

// Quaternion is the raw (qx, qy, qz, qw) orientation carried on a goal pose
// (spec §3). It is not required to be normalized on construction; Validate
// normalizes it as part of checking the invariant.
type Quaternion struct {
	QX, QY, QZ, QW float64
}

// Identity is the canonical upright, unrotated orientation.
var Identity = Quaternion{QW: 1}

func (q Quaternion) number() quat.Number {
	return quat.Number{Real: q.QW, Imag: q.QX, Jmag: q.QY, Kmag: q.QZ}
}

func fromNumber(n quat.Number) Quaternion {
	return Quaternion{QX: n.Imag, QY: n.Jmag, QZ: n.Kmag, QW: n.Real}
}

func (q Quaternion) squaredNorm() float64 {
	return q.QX*q.QX + q.QY*q.QY + q.QZ*q.QZ + q.QW*q.QW
}

// the spec's upright tolerance: the rotated z-axis must dot the world
// z-axis to within this distance of 1.
const uprightDotTolerance = 1e-3

// minSquaredNorm is the spec's lower bound on quaternion squared norm before
// it is rejected as degenerate.
const minSquaredNorm = 1e-6

// Validate checks the quaternion validity invariant from spec §3: all four
// components finite, squared norm >= 1e-6, and, after normalization, the
// rotated z-axis must dot the world z-axis to within 1e-3 of 1 (the goal is
// upright). Returns a *naverrors.Error of kind InvalidGoal on failure.
func (q Quaternion) Validate() error {
	for _, c := range []float64{q.QX, q.QY, q.QZ, q.QW} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return naverrors.Newf(naverrors.InvalidGoal, "quaternion component is not finite")
		}
	}
	sn := q.squaredNorm()
	if sn < minSquaredNorm {
		return naverrors.Newf(naverrors.InvalidGoal, "quaternion squared norm %g below minimum %g", sn, minSquaredNorm)
	}
	n := q.Normalized()
	z := n.RotateVector(r3.Vector{Z: 1})
	dot := z.Z // dot with world z-axis (0,0,1) is just the z component
	if math.Abs(dot-1) > uprightDotTolerance {
		return naverrors.Newf(naverrors.InvalidGoal, "goal orientation is not upright: rotated z-axis dot world z-axis = %g", dot)
	}
	return nil
}

// Normalized returns q scaled to unit norm. The caller is expected to have
// already rejected a near-zero-norm quaternion via Validate.
func (q Quaternion) Normalized() Quaternion {
	sn := q.squaredNorm()
	if sn == 0 {
		return Identity
	}
	s := 1 / math.Sqrt(sn)
	return Quaternion{QX: q.QX * s, QY: q.QY * s, QZ: q.QZ * s, QW: q.QW * s}
}

// RotateVector rotates v by this quaternion (q v q*), treating v as a pure
// quaternion, in the style of the teacher's spatialmath quaternion algebra
// (spatialmath/orientation.go).
func (q Quaternion) RotateVector(v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	qn := q.number()
	rotated := quat.Mul(quat.Mul(qn, p), quat.Conj(qn))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// AlmostEqual reports whether two quaternions represent approximately the
// same orientation, matching the teacher's QuaternionAlmostEqual shape.
func AlmostEqual(a, b Quaternion, tol float64) bool {
	an, bn := a.number(), b.number()
	diff := quat.Abs(quat.Sub(an, bn))
	return diff <= tol
}
