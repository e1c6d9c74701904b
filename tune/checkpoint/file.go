// Package checkpoint provides a byte-level file store for model state, the
// reference implementation of the training machinery's checkpoint interface.
// Models opt in by implementing StateCodec; anything beyond raw bytes
// (formats, versioning) is the model's own business.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vanyalzr/nncf/tune"
)

// StateCodec is the capability a model needs for FileStore to persist it.
type StateCodec interface {
	// MarshalState serializes the model's full trainable state.
	MarshalState() ([]byte, error)

	// UnmarshalState replaces the model's state with the serialized one.
	UnmarshalState(data []byte) error
}

// FileStore persists model state as flat files.
type FileStore struct{}

var _ tune.CheckpointIO = (*FileStore)(nil)

// NewFileStore returns a store writing ".ckpt" files.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Ext returns ".ckpt".
func (s *FileStore) Ext() string { return ".ckpt" }

// Save writes the model's state to path, creating parent directories as
// needed. The model must implement StateCodec.
func (s *FileStore) Save(model tune.Model, path string) error {
	codec, ok := model.(StateCodec)
	if !ok {
		return fmt.Errorf("model %T does not implement checkpoint.StateCodec", model)
	}
	data, err := codec.MarshalState()
	if err != nil {
		return fmt.Errorf("marshaling model state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

// Restore loads the state at path into the model. The model must implement
// StateCodec.
func (s *FileStore) Restore(model tune.Model, path string) error {
	codec, ok := model.(StateCodec)
	if !ok {
		return fmt.Errorf("model %T does not implement checkpoint.StateCodec", model)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	if err := codec.UnmarshalState(data); err != nil {
		return fmt.Errorf("unmarshaling model state from %s: %w", path, err)
	}
	return nil
}
