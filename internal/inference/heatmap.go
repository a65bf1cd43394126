package inference

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/nfnt/resize"
)

// Heatmap layout in pixels.
const (
	HeatmapSize    = 224
	colorbarGap    = 8
	colorbarWidth  = 16
	heatmapPadding = 4
)

// viridis stops at 0.0, 0.1, ... 1.0.
var viridis = [...]color.RGBA{
	{0x44, 0x01, 0x54, 0xff},
	{0x48, 0x24, 0x75, 0xff},
	{0x41, 0x44, 0x87, 0xff},
	{0x35, 0x5f, 0x8d, 0xff},
	{0x2a, 0x78, 0x8e, 0xff},
	{0x21, 0x91, 0x8c, 0xff},
	{0x22, 0xa8, 0x84, 0xff},
	{0x35, 0xb7, 0x79, 0xff},
	{0x7a, 0xd1, 0x51, 0xff},
	{0xbd, 0xdf, 0x26, 0xff},
	{0xfd, 0xe7, 0x25, 0xff},
}

// Viridis maps t in [0,1] onto the viridis colormap.
func Viridis(t float64) color.RGBA {
	if math.IsNaN(t) || t <= 0 {
		return viridis[0]
	}
	if t >= 1 {
		return viridis[len(viridis)-1]
	}
	pos := t * float64(len(viridis)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, b := viridis[i], viridis[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + (float64(y)-float64(x))*frac))
	}
	return color.RGBA{lerp(a.R, b.R), lerp(a.G, b.G), lerp(a.B, b.B), 0xff}
}

// RenderHeatmap draws an h×w activation map as a viridis PNG with a colorbar
// on the right. Each activation becomes a solid block of color. Values are
// min-max scaled; a constant map renders as the lowest color.
func RenderHeatmap(values []float32, h, w int) ([]byte, error) {
	if h <= 0 || w <= 0 || len(values) != h*w {
		return nil, errors.New("heatmap dimensions do not match values")
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		f := float64(v)
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	span := hi - lo

	scaled := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var t float64
			if span > 0 {
				t = (float64(values[y*w+x]) - lo) / span
			}
			scaled.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(t * 0xffff))})
		}
	}
	upscaled := resize.Resize(HeatmapSize, HeatmapSize, scaled, resize.NearestNeighbor)

	width := heatmapPadding*2 + HeatmapSize + colorbarGap + colorbarWidth
	height := heatmapPadding*2 + HeatmapSize
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)

	ub := upscaled.Bounds()
	for y := 0; y < HeatmapSize; y++ {
		for x := 0; x < HeatmapSize; x++ {
			g := color.Gray16Model.Convert(upscaled.At(ub.Min.X+x, ub.Min.Y+y)).(color.Gray16)
			canvas.SetRGBA(heatmapPadding+x, heatmapPadding+y, Viridis(float64(g.Y)/0xffff))
		}
	}

	barX := heatmapPadding + HeatmapSize + colorbarGap
	for y := 0; y < HeatmapSize; y++ {
		c := Viridis(1 - float64(y)/float64(HeatmapSize-1))
		for x := 0; x < colorbarWidth; x++ {
			canvas.SetRGBA(barX+x, heatmapPadding+y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeHeatmap renders the heatmap and returns it base64 encoded.
func EncodeHeatmap(values []float32, h, w int) (string, error) {
	raw, err := RenderHeatmap(values, h, w)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
