// Package inference turns images into feature statistics and heatmaps using a
// pretrained convolutional feature extractor.
package inference

import (
	"context"
	"fmt"
)

// FeatureMap is the raw extractor output in NCHW layout.
type FeatureMap struct {
	Data  []float32
	Shape []int64
}

// Extractor runs the feature network on one preprocessed NCHW input.
type Extractor interface {
	Extract(ctx context.Context, input []float32) (*FeatureMap, error)
	// ImageSize is the square edge length the network expects.
	ImageSize() int
}

// Dims returns batch, channels, height and width.
func (f *FeatureMap) Dims() (n, c, h, w int, err error) {
	if f == nil || len(f.Shape) != 4 {
		return 0, 0, 0, 0, fmt.Errorf("feature map must be 4-dimensional, got shape %v", shapeOf(f))
	}
	n, c, h, w = int(f.Shape[0]), int(f.Shape[1]), int(f.Shape[2]), int(f.Shape[3])
	if n <= 0 || c <= 0 || h <= 0 || w <= 0 {
		return 0, 0, 0, 0, fmt.Errorf("invalid feature map shape %v", f.Shape)
	}
	if len(f.Data) != n*c*h*w {
		return 0, 0, 0, 0, fmt.Errorf("feature map has %d values, shape %v needs %d", len(f.Data), f.Shape, n*c*h*w)
	}
	return n, c, h, w, nil
}

func shapeOf(f *FeatureMap) []int64 {
	if f == nil {
		return nil
	}
	return f.Shape
}
