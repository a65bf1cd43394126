package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/featurescope/internal/archive"
	"github.com/example/featurescope/internal/inference"
	"github.com/example/featurescope/internal/logging"
	"github.com/example/featurescope/internal/repository"
	"github.com/example/featurescope/internal/retry"
)

// ErrBatchProcessing is returned by GetBatch while the batch is still running.
var ErrBatchProcessing = errors.New("batch is still processing")

// BatchRepository defines the persistence operations needed by the use case.
type BatchRepository interface {
	SaveLog(ctx context.Context, log *repository.BatchLog) error
	FindByBatchIDAndUser(ctx context.Context, batchID, username string) (*repository.BatchLog, error)
	AggregateMetrics(ctx context.Context, username string) (*repository.MetricsAggregation, error)
}

// ImageProcessor runs inference over extracted images.
type ImageProcessor interface {
	ProcessImages(ctx context.Context, paths []string) []inference.Result
}

// ResultWriter persists the per-batch result file.
type ResultWriter interface {
	Save(ctx context.Context, stem, batchID string, results []inference.Result) (string, error)
}

// Dirs are the working directories for uploads.
type Dirs struct {
	Uploads string
	Images  string
}

// UploadResult is returned to the client after a batch finishes.
type UploadResult struct {
	BatchID  string
	Filename string
	Results  []inference.Result
}

// UploadUseCase encapsulates the extract-and-infer flow for uploaded archives.
type UploadUseCase struct {
	repo      BatchRepository
	cache     Cache
	processor ImageProcessor
	results   ResultWriter
	dirs      Dirs
	logger    *zap.Logger
	policy    retry.Policy
	now       func() time.Time
	newID     func() string
}

// NewUploadUseCase constructs a new use case instance.
func NewUploadUseCase(repo BatchRepository, cache Cache, processor ImageProcessor, results ResultWriter, dirs Dirs, logger *zap.Logger) *UploadUseCase {
	return &UploadUseCase{
		repo:      repo,
		cache:     cache,
		processor: processor,
		results:   results,
		dirs:      dirs,
		logger:    logger.Named("upload_usecase"),
		policy:    retry.DefaultPolicy,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ProcessArchive stores the uploaded archive, extracts it, runs inference on
// every top-level image and records the batch. The archive and the extracted
// files are removed before returning.
func (uc *UploadUseCase) ProcessArchive(ctx context.Context, username, filename string, body io.Reader) (*UploadResult, error) {
	if !archive.IsZipName(filename) {
		return nil, archive.ErrNotZip
	}

	batchID := uc.newID()
	opLogger := logging.WithOperation(uc.logger, "usecase.process_archive", batchID)
	start := uc.now()

	cacheKey := batchCacheKey(batchID)
	if err := retry.Do(ctx, uc.logger, uc.policy, "cache.set.processing", batchID, func() error {
		return uc.cache.Set(ctx, cacheKey, processingMarker(username), processingTTL)
	}); err != nil {
		opLogger.Warn("failed to set processing flag", zap.Error(err))
	}

	uploadPath, err := uc.saveUpload(batchID, filename, body)
	if err != nil {
		return nil, logging.NewOperationError("usecase.save_upload", batchID, err)
	}
	defer uc.remove(opLogger, uploadPath)

	stem := archive.Stem(filename)
	batchDir := filepath.Join(uc.dirs.Images, batchID)
	defer uc.remove(opLogger, batchDir)
	extractDir := filepath.Join(batchDir, stem)

	skipped, err := archive.Extract(ctx, uploadPath, extractDir)
	if err != nil {
		return nil, logging.NewOperationError("usecase.extract", batchID, err)
	}
	if len(skipped) > 0 {
		opLogger.Warn("skipped archive entries", zap.Strings("entries", skipped))
	}

	images, err := archive.FindImages(extractDir)
	if err != nil {
		return nil, logging.NewOperationError("usecase.find_images", batchID, err)
	}
	opLogger.Info("processing batch", zap.String("username", username), zap.String("archive", filename), zap.Int("images", len(images)))

	results := uc.processor.ProcessImages(ctx, images)

	resultPath, err := uc.results.Save(ctx, stem, batchID, results)
	if err != nil {
		return nil, logging.NewOperationError("usecase.save_results", batchID, err)
	}

	log := &repository.BatchLog{
		BatchID:         batchID,
		Username:        username,
		Archive:         filepath.Base(filename),
		ImagesProcessed: len(results),
		ImagesFailed:    countFailed(results),
		ResultPath:      resultPath,
		ProcessingMs:    uc.now().Sub(start).Milliseconds(),
		CreatedAt:       uc.now().UTC(),
	}
	// The client already has its results; a lost log only affects lookups and metrics.
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		opLogger.Error("failed to persist batch log", zap.Error(err))
	} else {
		uc.cacheBatch(ctx, opLogger, log)
	}

	opLogger.Info("batch complete",
		zap.Int("images_processed", log.ImagesProcessed),
		zap.Int("images_failed", log.ImagesFailed),
		zap.Int64("processing_ms", log.ProcessingMs))

	return &UploadResult{BatchID: batchID, Filename: filename, Results: results}, nil
}

func (uc *UploadUseCase) saveUpload(batchID, filename string, body io.Reader) (string, error) {
	if err := os.MkdirAll(uc.dirs.Uploads, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(uc.dirs.Uploads, fmt.Sprintf("%s_%s", batchID, filepath.Base(filename)))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(file, body); err != nil {
		file.Close()
		os.Remove(path)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (uc *UploadUseCase) remove(logger *zap.Logger, path string) {
	if err := os.RemoveAll(path); err != nil {
		logger.Warn("failed to clean up", zap.String("path", path), zap.Error(err))
	}
}

func (uc *UploadUseCase) cacheBatch(ctx context.Context, logger *zap.Logger, log *repository.BatchLog) {
	serialized, err := json.Marshal(log)
	if err != nil {
		logger.Error("failed to serialize batch log", zap.Error(err))
		return
	}
	if err := retry.Do(ctx, uc.logger, uc.policy, "cache.set.batch", log.BatchID, func() error {
		return uc.cache.Set(ctx, batchCacheKey(log.BatchID), string(serialized), batchTTL)
	}); err != nil {
		logger.Warn("failed to cache batch log", zap.Error(err))
	}
}

// GetBatch returns the batch log for batchID if it belongs to username,
// preferring the cache over the database.
func (uc *UploadUseCase) GetBatch(ctx context.Context, username, batchID string) (*repository.BatchLog, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_batch", batchID)

	var cached string
	err := retry.Do(ctx, uc.logger, uc.policy.Expecting(redis.Nil), "cache.get.batch", batchID, func() error {
		value, err := uc.cache.Get(ctx, batchCacheKey(batchID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err == nil && cached == processingMarker(username):
		return nil, ErrBatchProcessing
	case err == nil && strings.HasPrefix(cached, processingMarker("")):
		return nil, repository.ErrNotFound
	case err == nil:
		var log repository.BatchLog
		if decodeErr := json.Unmarshal([]byte(cached), &log); decodeErr != nil {
			opLogger.Warn("failed to decode cached batch", zap.Error(decodeErr))
		} else if log.Username == username {
			return &log, nil
		} else {
			return nil, repository.ErrNotFound
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByBatchIDAndUser(ctx, batchID, username)
}

func countFailed(results []inference.Result) int {
	failed := 0
	for _, r := range results {
		if r.Status != inference.StatusSuccess {
			failed++
		}
	}
	return failed
}
