package octree

import "errors"

// ErrCapacityExceeded is returned by a pass that tried to write past the end
// of the fragment list or the node pool. The data written before the overflow
// is intact; the structure is incomplete.
var ErrCapacityExceeded = errors.New("capacity exceeded")
