package apriltag

import (
	"errors"
	"fmt"
)

// ErrSingularIntrinsics reports a projection matrix whose calibration block
// cannot be inverted. Frames carrying such intrinsics are skipped.
var ErrSingularIntrinsics = errors.New("singular camera intrinsics")

// ErrDetectorClosed reports use of a detector handle after Close.
var ErrDetectorClosed = errors.New("detector closed")

// ConfigMismatchError reports parallel tag configuration arrays of unequal
// length. Construction must fail rather than truncate silently.
type ConfigMismatchError struct {
	Field string // name of the array that disagrees with the id list
	IDs   int
	Got   int
}

func (e *ConfigMismatchError) Error() string {
	return fmt.Sprintf("number of tag ids (%d) and %s (%d) mismatch", e.IDs, e.Field, e.Got)
}
