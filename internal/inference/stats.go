package inference

import "math"

// Stats summarizes one feature map.
type Stats struct {
	Mean  float64
	Max   float64
	Shape []int64
}

// Summarize computes mean and max activation over every value in fm.
func Summarize(fm *FeatureMap) (Stats, error) {
	if _, _, _, _, err := fm.Dims(); err != nil {
		return Stats{}, err
	}
	var sum float64
	maxValue := math.Inf(-1)
	for _, v := range fm.Data {
		f := float64(v)
		sum += f
		if f > maxValue {
			maxValue = f
		}
	}
	shape := make([]int64, len(fm.Shape))
	copy(shape, fm.Shape)
	return Stats{
		Mean:  sum / float64(len(fm.Data)),
		Max:   maxValue,
		Shape: shape,
	}, nil
}

// ChannelMean averages the first batch element across channels and returns
// an h×w activation map in row-major order.
func ChannelMean(fm *FeatureMap) (values []float32, h, w int, err error) {
	_, c, h, w, err := fm.Dims()
	if err != nil {
		return nil, 0, 0, err
	}
	plane := h * w
	acc := make([]float64, plane)
	for ch := 0; ch < c; ch++ {
		offset := ch * plane
		for i := 0; i < plane; i++ {
			acc[i] += float64(fm.Data[offset+i])
		}
	}
	values = make([]float32, plane)
	for i, v := range acc {
		values[i] = float32(v / float64(c))
	}
	return values, h, w, nil
}
