// Package resultstore writes per-batch result files and optionally mirrors
// them to S3-compatible object storage.
package resultstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/example/featurescope/internal/inference"
)

// Mirror copies a finished result file somewhere else.
type Mirror interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Store writes result files below dir.
type Store struct {
	dir    string
	mirror Mirror
	logger *zap.Logger
}

// NewStore returns a Store. mirror may be nil.
func NewStore(dir string, mirror Mirror, logger *zap.Logger) *Store {
	return &Store{dir: dir, mirror: mirror, logger: logger.Named("result_store")}
}

// FileName is the result file name for a batch.
func FileName(stem, batchID string) string {
	return fmt.Sprintf("%s_%s_results.json", stem, batchID)
}

// Save writes results as JSON and returns the file path. Mirror failures are
// logged and do not fail the save.
func (s *Store) Save(ctx context.Context, stem, batchID string, results []inference.Result) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(results); err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}

	name := FileName(stem, batchID)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write results: %w", err)
	}

	if s.mirror != nil {
		key := "results/" + name
		if err := s.mirror.Put(ctx, key, buf.Bytes()); err != nil {
			s.logger.Warn("failed to mirror result file", zap.String("key", key), zap.String("batch_id", batchID), zap.Error(err))
		}
	}
	return path, nil
}
