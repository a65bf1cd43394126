package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/example/featurescope/internal/config"
	"github.com/example/featurescope/internal/inference"
)

type recordingMirror struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (m *recordingMirror) Put(ctx context.Context, key string, body []byte) error {
	m.keys = append(m.keys, key)
	m.bodies = append(m.bodies, body)
	return m.err
}

type stubPutter struct {
	inputs []*s3.PutObjectInput
	body   []byte
}

func (s *stubPutter) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	s.inputs = append(s.inputs, params)
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	s.body = body
	return &s3.PutObjectOutput{}, nil
}

func sampleResults() []inference.Result {
	mean, peak := 0.25, 3.5
	return []inference.Result{
		{Filename: "a.png", Status: inference.StatusSuccess, MeanActivation: &mean, MaxActivation: &peak, Shape: []int64{1, 2048, 7, 7}},
		{Filename: "b.png", Status: inference.StatusError, Error: "decode failed"},
	}
}

func TestSaveWritesResultFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")
	mirror := &recordingMirror{}
	store := NewStore(dir, mirror, zap.NewNop())

	path, err := store.Save(context.Background(), "faces", "batch-1", sampleResults())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if path != filepath.Join(dir, "faces_batch-1_results.json") {
		t.Fatalf("unexpected path %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 || decoded[0]["mean_activation"] != 0.25 || decoded[1]["error"] != "decode failed" {
		t.Fatalf("unexpected contents: %s", raw)
	}
	if _, ok := decoded[1]["mean_activation"]; ok {
		t.Fatalf("error entries should omit statistics: %s", raw)
	}

	if len(mirror.keys) != 1 || mirror.keys[0] != "results/faces_batch-1_results.json" {
		t.Fatalf("unexpected mirror keys %v", mirror.keys)
	}
	if string(mirror.bodies[0]) != string(raw) {
		t.Fatal("mirrored body differs from file contents")
	}
}

func TestSaveIgnoresMirrorFailure(t *testing.T) {
	store := NewStore(t.TempDir(), &recordingMirror{err: errors.New("bucket gone")}, zap.NewNop())

	if _, err := store.Save(context.Background(), "faces", "batch-2", sampleResults()); err != nil {
		t.Fatalf("expected mirror failure to be tolerated, got %v", err)
	}
}

func TestSaveWithoutMirror(t *testing.T) {
	store := NewStore(t.TempDir(), nil, zap.NewNop())
	if _, err := store.Save(context.Background(), "faces", "batch-3", nil); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestS3MirrorPut(t *testing.T) {
	putter := &stubPutter{}
	mirror := &S3Mirror{client: putter, bucket: "results"}

	if err := mirror.Put(context.Background(), "results/x.json", []byte(`[]`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if len(putter.inputs) != 1 {
		t.Fatalf("expected 1 put, got %d", len(putter.inputs))
	}
	in := putter.inputs[0]
	if aws.ToString(in.Bucket) != "results" || aws.ToString(in.Key) != "results/x.json" || aws.ToString(in.ContentType) != "application/json" {
		t.Fatalf("unexpected input: %+v", in)
	}
	if string(putter.body) != "[]" {
		t.Fatalf("unexpected body %q", putter.body)
	}
}

func TestNewS3MirrorRequiresBucket(t *testing.T) {
	if _, err := NewS3Mirror(context.Background(), config.S3{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestNewS3MirrorWithStaticCredentials(t *testing.T) {
	mirror, err := NewS3Mirror(context.Background(), config.S3{
		Bucket:    "results",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	if err != nil {
		t.Fatalf("new mirror: %v", err)
	}
	if mirror.bucket != "results" || mirror.client == nil {
		t.Fatalf("unexpected mirror: %+v", mirror)
	}
}
