// Package spatialmath defines the rigid transforms and rotation helpers used by dataset poses
// and trajectories.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a 3x3 rotation followed by a translation.
type Pose struct {
	rotation    [9]float64 // row major
	translation r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{rotation: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewPose returns a pose from a row major 3x3 rotation and a translation.
func NewPose(rotation [9]float64, translation r3.Vector) Pose {
	return Pose{rotation: rotation, translation: translation}
}

// NewPoseFromMatrix34 builds a pose from the 12 values of a row major 3x4 matrix, which is how
// dataset pose files store them. The bottom row [0 0 0 1] is implicit.
func NewPoseFromMatrix34(values []float64) (Pose, error) {
	if len(values) != 12 {
		return Pose{}, errors.Errorf("expected 12 values for a 3x4 pose, got %d", len(values))
	}
	var p Pose
	for row := 0; row < 3; row++ {
		copy(p.rotation[row*3:row*3+3], values[row*4:row*4+3])
	}
	p.translation = r3.Vector{X: values[3], Y: values[7], Z: values[11]}
	return p, nil
}

// NewPoseFromQuaternion builds a pose from a unit quaternion and a translation.
func NewPoseFromQuaternion(q quat.Number, translation r3.Vector) Pose {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Pose{
		rotation: [9]float64{
			1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
			2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
			2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
		},
		translation: translation,
	}
}

// Point returns the translation of the pose.
func (p Pose) Point() r3.Vector {
	return p.translation
}

// Rotation returns the row major 3x3 rotation.
func (p Pose) Rotation() [9]float64 {
	return p.rotation
}

// At returns the element of the homogeneous 4x4 matrix at the given row and column.
func (p Pose) At(row, col int) float64 {
	switch {
	case row == 3 && col == 3:
		return 1
	case row == 3:
		return 0
	case col == 3:
		return [3]float64{p.translation.X, p.translation.Y, p.translation.Z}[row]
	default:
		return p.rotation[row*3+col]
	}
}

// Matrix returns the homogeneous 4x4 matrix of the pose.
func (p Pose) Matrix() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, p.At(row, col))
		}
	}
	return m
}

// Transform applies the pose to a point.
func (p Pose) Transform(v r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(p.Matrix(), mat.NewVecDense(4, []float64{v.X, v.Y, v.Z, 1}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// Compose returns the pose equivalent to applying b then a.
func Compose(a, b Pose) Pose {
	var m mat.Dense
	m.Mul(a.Matrix(), b.Matrix())
	return poseFromDense(&m)
}

// poseFromDense reads a pose back out of the top three rows of a homogeneous 4x4 matrix.
func poseFromDense(m mat.Matrix) Pose {
	var p Pose
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			p.rotation[row*3+col] = m.At(row, col)
		}
	}
	p.translation = r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)}
	return p
}

// Quaternion returns the rotation of the pose as a unit quaternion.
func (p Pose) Quaternion() quat.Number {
	r := p.rotation
	trace := r[0] + r[4] + r[8]
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (r[7] - r[5]) * s, Jmag: (r[2] - r[6]) * s, Kmag: (r[3] - r[1]) * s}
	case r[0] > r[4] && r[0] > r[8]:
		s := 2 * math.Sqrt(1+r[0]-r[4]-r[8])
		q = quat.Number{Real: (r[7] - r[5]) / s, Imag: 0.25 * s, Jmag: (r[1] + r[3]) / s, Kmag: (r[2] + r[6]) / s}
	case r[4] > r[8]:
		s := 2 * math.Sqrt(1+r[4]-r[0]-r[8])
		q = quat.Number{Real: (r[2] - r[6]) / s, Imag: (r[1] + r[3]) / s, Jmag: 0.25 * s, Kmag: (r[5] + r[7]) / s}
	default:
		s := 2 * math.Sqrt(1+r[8]-r[0]-r[4])
		q = quat.Number{Real: (r[3] - r[1]) / s, Imag: (r[2] + r[6]) / s, Jmag: (r[5] + r[7]) / s, Kmag: 0.25 * s}
	}
	return Normalize(q)
}

// PoseAlmostEqual returns whether every element of the two poses is within epsilon.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			if math.Abs(a.At(row, col)-b.At(row, col)) > epsilon {
				return false
			}
		}
	}
	return true
}

func (p Pose) String() string {
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f Q:%v}", p.translation.X, p.translation.Y, p.translation.Z, p.Quaternion())
}
