package inference

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// Normalization applied to greyscale intensities scaled to [0,1].
const (
	normMean = 0.5
	normStd  = 0.5
)

// Preprocess converts img to greyscale, resizes it to size×size, normalizes
// it and replicates the single channel three times in NCHW order.
func Preprocess(img image.Image, size int) []float32 {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	resized := resize.Resize(uint(size), uint(size), gray, resize.Bilinear)
	rb := resized.Bounds()
	width, height := rb.Dx(), rb.Dy()

	plane := width * height
	input := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(resized.At(rb.Min.X+x, rb.Min.Y+y)).(color.Gray)
			v := (float32(g.Y)/255.0 - normMean) / normStd

			idx := y*width + x
			input[idx] = v
			input[plane+idx] = v
			input[2*plane+idx] = v
		}
	}
	return input
}
