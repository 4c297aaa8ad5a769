package inference

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/cloudsplit/internal/fsutil"
	"github.com/banshee-data/cloudsplit/internal/monitoring"
)

// ErrMissingCheckpoint is returned when no checkpoint was given and none
// matches the discovery pattern.
var ErrMissingCheckpoint = errors.New("no model checkpoint found")

// DefaultCheckpointGlob matches PyTorch checkpoint files.
const DefaultCheckpointGlob = "*.pth"

// DiscoverCheckpoint returns explicit when it is set. Otherwise it lists
// dir/pattern and returns the last match in lexical order; with several
// checkpoints present that is not necessarily the newest one.
func DiscoverCheckpoint(fsys fsutil.FileSystem, dir, pattern, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if pattern == "" {
		pattern = DefaultCheckpointGlob
	}
	matches, err := fsys.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("glob checkpoints: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s matching %s", ErrMissingCheckpoint, dir, pattern)
	}
	ckpt := matches[len(matches)-1]
	if len(matches) > 1 {
		monitoring.Logf("[inference] %d checkpoints match %s; using %s", len(matches), pattern, ckpt)
	} else {
		monitoring.Logf("[inference] using checkpoint %s", ckpt)
	}
	return ckpt, nil
}
