package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Result status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the per-image outcome returned to clients and written to result files.
type Result struct {
	Filename             string   `json:"filename"`
	Status               string   `json:"status"`
	FeatureVisualization string   `json:"feature_visualization,omitempty"`
	MeanActivation       *float64 `json:"mean_activation,omitempty"`
	MaxActivation        *float64 `json:"max_activation,omitempty"`
	Shape                []int64  `json:"shape,omitempty"`
	Error                string   `json:"error,omitempty"`
}

// MaxImagePixels caps the declared width×height of an input image. Larger
// images are rejected before their pixels are decoded.
const MaxImagePixels = 89_478_485

// ErrImageTooLarge is reported for images above MaxImagePixels.
var ErrImageTooLarge = errors.New("image exceeds pixel limit")

// Processor runs the extractor over image files one at a time.
type Processor struct {
	extractor Extractor
	logger    *zap.Logger
	maxPixels int
}

// NewProcessor wraps extractor.
func NewProcessor(extractor Extractor, logger *zap.Logger) *Processor {
	return &Processor{extractor: extractor, logger: logger.Named("inference"), maxPixels: MaxImagePixels}
}

// ProcessImages returns one Result per path, in order. A failing image
// yields an error entry and does not stop the loop.
func (p *Processor) ProcessImages(ctx context.Context, paths []string) []Result {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		name := filepath.Base(path)
		start := time.Now()

		result, err := p.ProcessImage(ctx, path)
		if err != nil {
			p.logger.Warn("image processing failed", zap.String("filename", name), zap.Error(err))
			results = append(results, Result{Filename: name, Status: StatusError, Error: err.Error()})
			continue
		}
		p.logger.Debug("image processed", zap.String("filename", name), zap.Duration("elapsed", time.Since(start)))
		results = append(results, result)
	}
	return results
}

// ProcessImage decodes, preprocesses and runs a single file.
func (p *Processor) ProcessImage(ctx context.Context, path string) (Result, error) {
	name := filepath.Base(path)

	img, err := decodeImage(path, p.maxPixels)
	if err != nil {
		return Result{}, fmt.Errorf("error preprocessing image %s: %w", name, err)
	}
	input := Preprocess(img, p.extractor.ImageSize())

	features, err := p.extractor.Extract(ctx, input)
	if err != nil {
		return Result{}, fmt.Errorf("feature extraction for %s: %w", name, err)
	}

	stats, err := Summarize(features)
	if err != nil {
		return Result{}, err
	}
	heat, h, w, err := ChannelMean(features)
	if err != nil {
		return Result{}, err
	}
	viz, err := EncodeHeatmap(heat, h, w)
	if err != nil {
		return Result{}, fmt.Errorf("render visualization for %s: %w", name, err)
	}

	return Result{
		Filename:             name,
		Status:               StatusSuccess,
		FeatureVisualization: viz,
		MeanActivation:       &stats.Mean,
		MaxActivation:        &stats.Max,
		Shape:                stats.Shape,
	}, nil
}

func decodeImage(path string, maxPixels int) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return nil, err
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}
