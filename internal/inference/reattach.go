package inference

import (
	"errors"
	"fmt"
)

// ErrDuplicateAssignment is returned when two results claim the same
// source point.
var ErrDuplicateAssignment = errors.New("point predicted more than once")

// Reattach scatters predictions back onto a cloud of n points. Points that
// no result covers (dropped cells) keep 0. Results without Indices cannot
// be placed and are rejected.
func Reattach(results []PredictionResult, n int) ([]int32, error) {
	out := make([]int32, n)
	seen := make([]bool, n)
	for _, r := range results {
		if r.Indices == nil && r.Len() > 0 {
			return nil, fmt.Errorf("result %s has no source indices", r.Name)
		}
		if len(r.Indices) != len(r.Pred) {
			return nil, fmt.Errorf("result %s: %d indices for %d predictions", r.Name, len(r.Indices), len(r.Pred))
		}
		for k, i := range r.Indices {
			if i < 0 || i >= n {
				return nil, fmt.Errorf("result %s: index %d outside cloud of %d points", r.Name, i, n)
			}
			if seen[i] {
				return nil, fmt.Errorf("%w: row %d (result %s)", ErrDuplicateAssignment, i, r.Name)
			}
			seen[i] = true
			out[i] = r.Pred[k]
		}
	}
	return out, nil
}
