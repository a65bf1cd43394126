package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Metadata describes the exported extractor graph.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
}

// LoadMetadata reads and validates the JSON sidecar written next to the model.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}
	if err := meta.validate(); err != nil {
		return Metadata{}, err
	}
	return meta, nil
}

func (m Metadata) validate() error {
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 || m.InputShape[1] != 3 {
		return fmt.Errorf("input_shape must be [1,3,H,W], got %v", m.InputShape)
	}
	if m.ImageSize <= 0 || m.InputShape[2] != int64(m.ImageSize) || m.InputShape[3] != int64(m.ImageSize) {
		return fmt.Errorf("image_size %d does not match input_shape %v", m.ImageSize, m.InputShape)
	}
	if len(m.OutputShape) != 4 || m.OutputShape[0] != 1 {
		return fmt.Errorf("output_shape must be [1,C,H,W], got %v", m.OutputShape)
	}
	for _, dim := range m.OutputShape {
		if dim <= 0 {
			return fmt.Errorf("output_shape must be positive, got %v", m.OutputShape)
		}
	}
	return nil
}

func (m Metadata) inputLen() int {
	return product(m.InputShape)
}

func product(shape []int64) int {
	total := 1
	for _, dim := range shape {
		total *= int(dim)
	}
	return total
}

// ONNXExtractor runs an ONNX feature extractor through onnxruntime. The
// session reuses pre-allocated tensors, so runs are serialized.
type ONNXExtractor struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	meta         Metadata
}

// NewONNXExtractor initializes the onnxruntime environment (from runtimeLib
// when set) and loads the model at modelPath.
func NewONNXExtractor(runtimeLib, modelPath string, meta Metadata) (*ONNXExtractor, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	if runtimeLib != "" {
		ort.SetSharedLibraryPath(runtimeLib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXExtractor{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		meta:         meta,
	}, nil
}

// ImageSize implements Extractor.
func (e *ONNXExtractor) ImageSize() int {
	return e.meta.ImageSize
}

// Extract implements Extractor.
func (e *ONNXExtractor) Extract(ctx context.Context, input []float32) (*FeatureMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if want := e.meta.inputLen(); len(input) != want {
		return nil, fmt.Errorf("expected %d input values, got %d", want, len(input))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, errors.New("extractor is closed")
	}

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	out := e.outputTensor.GetData()
	data := make([]float32, len(out))
	copy(data, out)
	shape := make([]int64, len(e.meta.OutputShape))
	copy(shape, e.meta.OutputShape)
	return &FeatureMap{Data: data, Shape: shape}, nil
}

// Close releases the session, its tensors and the runtime environment.
func (e *ONNXExtractor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	if e.session != nil {
		e.session.Destroy()
		e.session = nil
		ort.DestroyEnvironment()
	}
}
