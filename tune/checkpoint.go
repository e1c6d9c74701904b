package tune

import (
	"errors"
	"fmt"
)

// ErrNoFeasibleCheckpoint reports that no recorded compression rate kept a
// non-negative accuracy budget, so there is nothing to roll back to.
var ErrNoFeasibleCheckpoint = errors.New("no checkpoint with non-negative accuracy budget")

// CheckpointIO persists and restores model state for the runner. The runner
// only composes file names; storage mechanics stay behind this interface.
type CheckpointIO interface {
	// Save writes the model's state to the given path.
	Save(model Model, path string) error

	// Restore loads the state at the given path into the model.
	Restore(model Model, path string) error

	// Ext returns the checkpoint file extension including the leading dot.
	Ext() string
}

const defaultCheckpointTag = "acc_aware"

func lastCheckpointName(tag, ext string) string {
	return fmt.Sprintf("%s_checkpoint_last%s", tag, ext)
}

func bestCheckpointName(tag string, rate float64, ext string) string {
	return fmt.Sprintf("%s_checkpoint_best_compression_rate_%.3f%s", tag, rate, ext)
}
