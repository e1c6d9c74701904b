package telemetry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

type jsonlRecord struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
	Step  int     `json:"step"`
}

// JSONL appends one JSON object per observation to a file. Encoding or write
// failures are logged and the record dropped.
type JSONL struct {
	file    *os.File
	encoder *json.Encoder
}

// NewJSONL opens (or creates) the file at path for appending.
func NewJSONL(path string) (*JSONL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening telemetry file: %w", err)
	}
	return &JSONL{file: file, encoder: json.NewEncoder(file)}, nil
}

// Record writes the observation as one JSON line.
func (j *JSONL) Record(key string, value float64, step int) {
	if err := j.encoder.Encode(jsonlRecord{Key: key, Value: value, Step: step}); err != nil {
		logrus.Warnf("telemetry: dropping record %q: %v", key, err)
	}
}

// Close closes the underlying file.
func (j *JSONL) Close() error {
	return j.file.Close()
}
