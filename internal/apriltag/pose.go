package apriltag

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// PoseFromHomography decomposes a planar homography into the marker's
// translation and rotation relative to the camera.
//
// H maps the canonical tag frame to image pixels and factors as H = K·T,
// so T = K⁻¹·H recovers the extrinsic columns up to scale:
// https://dsp.stackexchange.com/a/2737/31703
//
// size is the physical edge length of the tag. With zUp set the tag frame
// is rotated half a turn about its x-axis so its z-axis points up out of
// the tag plane instead of towards the camera.
func PoseFromHomography(h [9]float64, pinv mat.Matrix, size float64, zUp bool) (r3.Vector, quat.Number) {
	var t mat.Dense
	t.Mul(pinv, mat.NewDense(3, 3, h[:]))

	c0 := r3.Vector{X: t.At(0, 0), Y: t.At(1, 0), Z: t.At(2, 0)}
	c1 := r3.Vector{X: t.At(0, 1), Y: t.At(1, 1), Z: t.At(2, 1)}
	c2 := r3.Vector{X: t.At(0, 2), Y: t.At(1, 2), Z: t.At(2, 2)}

	// The first two columns of T are the in-plane rotation axes; the third
	// rotation axis is their cross product, which restores orthonormality
	// lost to projection noise.
	r0 := c0.Normalize()
	r1 := c1.Normalize()
	r2 := r0.Cross(r1)

	if zUp {
		// rotate by half rotation about x-axis
		r1 = r1.Mul(-1)
		r2 = r2.Mul(-1)
	}

	// The corner coordinates of the tag in the canonical frame are (±1, ±1),
	// hence the scale is half of the edge size.
	tt := c2.Mul(size / 2.0 / ((c0.Norm() + c0.Norm()) / 2.0))

	return tt, quatFromColumns(r0, r1, r2)
}

// quatFromColumns converts an orthonormal rotation matrix, given as its
// three columns, to a unit quaternion. The branch on the dominant diagonal
// term keeps the square root away from zero.
func quatFromColumns(c0, c1, c2 r3.Vector) quat.Number {
	m00, m01, m02 := c0.X, c1.X, c2.X
	m10, m11, m12 := c0.Y, c1.Y, c2.Y
	m20, m21, m22 := c0.Z, c1.Z, c2.Z

	var w, x, y, z float64
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1.0) * 2.0
		w = 0.25 * s
		x = (m21 - m12) / s
		y = (m02 - m20) / s
		z = (m10 - m01) / s
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1.0+m00-m11-m22) * 2.0
		w = (m21 - m12) / s
		x = 0.25 * s
		y = (m01 + m10) / s
		z = (m02 + m20) / s
	case m11 > m22:
		s := math.Sqrt(1.0+m11-m00-m22) * 2.0
		w = (m02 - m20) / s
		x = (m01 + m10) / s
		y = 0.25 * s
		z = (m12 + m21) / s
	default:
		s := math.Sqrt(1.0+m22-m00-m11) * 2.0
		w = (m10 - m01) / s
		x = (m02 + m20) / s
		y = (m12 + m21) / s
		z = 0.25 * s
	}

	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}
