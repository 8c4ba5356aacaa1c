package apriltag

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// InvertIntrinsics extracts the left 3x3 calibration block from a 3x4
// row-major projection matrix and returns its inverse. It is recomputed
// once per incoming frame rather than cached: intrinsics may change if the
// camera re-publishes its calibration.
func InvertIntrinsics(p [12]float64) (*mat.Dense, error) {
	k := mat.NewDense(3, 3, []float64{
		p[0], p[1], p[2],
		p[4], p[5], p[6],
		p[8], p[9], p[10],
	})

	var pinv mat.Dense
	if err := pinv.Inverse(k); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingularIntrinsics, err)
	}
	return &pinv, nil
}
