package archive

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeZip(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.zip")
	out, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	zw := zip.NewWriter(out)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("write entry %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return path
}

func TestIsZipName(t *testing.T) {
	cases := map[string]bool{
		"faces.zip":   true,
		"FACES.ZIP":   true,
		"faces.zip.7": false,
		"faces.tar":   false,
		"":            false,
	}
	for name, want := range cases {
		if got := IsZipName(name); got != want {
			t.Fatalf("IsZipName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestStem(t *testing.T) {
	if got := Stem("uploads/cats.zip"); got != "cats" {
		t.Fatalf("unexpected stem %q", got)
	}
	if got := Stem("../../evil.zip"); got != "evil" {
		t.Fatalf("unexpected stem %q", got)
	}
}

func TestExtractAndFindImages(t *testing.T) {
	archivePath := writeZip(t, map[string][]byte{
		"b.PNG":           []byte("png"),
		"a.jpg":           []byte("jpg"),
		"c.jpeg":          []byte("jpeg"),
		"notes.txt":       []byte("ignored"),
		"nested/d.png":    []byte("nested"),
		"../escape.png":   []byte("outside"),
		"/abs/escape.jpg": []byte("outside"),
	})
	dest := filepath.Join(t.TempDir(), "out")

	skipped, err := Extract(context.Background(), archivePath, dest)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(skipped) != 2 {
		t.Fatalf("expected 2 skipped entries, got %v", skipped)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "escape.png")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("entry escaped destination: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "nested", "d.png")); err != nil {
		t.Fatalf("expected nested entry to be extracted: %v", err)
	}

	images, err := FindImages(dest)
	if err != nil {
		t.Fatalf("find images: %v", err)
	}
	want := []string{
		filepath.Join(dest, "a.jpg"),
		filepath.Join(dest, "b.PNG"),
		filepath.Join(dest, "c.jpeg"),
	}
	if len(images) != len(want) {
		t.Fatalf("expected %v, got %v", want, images)
	}
	for i := range want {
		if images[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, images)
		}
	}
}

func TestFindImagesNone(t *testing.T) {
	archivePath := writeZip(t, map[string][]byte{"readme.md": []byte("# nothing")})
	dest := filepath.Join(t.TempDir(), "out")
	if _, err := Extract(context.Background(), archivePath, dest); err != nil {
		t.Fatalf("extract: %v", err)
	}

	if _, err := FindImages(dest); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func TestExtractRejectsNonZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.zip")
	if err := os.WriteFile(path, []byte("definitely not a zip"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Extract(context.Background(), path, t.TempDir()); !errors.Is(err, ErrInvalidArchive) {
		t.Fatalf("expected ErrInvalidArchive, got %v", err)
	}
}

func TestExtractStopsOnCancelledContext(t *testing.T) {
	archivePath := writeZip(t, map[string][]byte{"a.png": []byte("png")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Extract(ctx, archivePath, t.TempDir()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
