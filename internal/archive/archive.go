// Package archive unpacks uploaded ZIP files and finds the images inside them.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrNotZip rejects uploads whose filename does not end in .zip.
	ErrNotZip = errors.New("only zip files are allowed")
	// ErrInvalidArchive is returned when the upload cannot be read as a ZIP file.
	ErrInvalidArchive = errors.New("invalid zip archive")
	// ErrNoImages is returned when extraction yields no qualifying image.
	ErrNoImages = errors.New("no valid images found in zip file")
)

// ImageExtensions are matched case-insensitively against top-level files.
var ImageExtensions = []string{".jpg", ".jpeg", ".png"}

// IsZipName reports whether filename names a ZIP archive.
func IsZipName(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".zip")
}

// Stem returns the archive filename without directory or extension.
func Stem(filename string) string {
	base := filepath.Base(filepath.Clean(filename))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Extract unpacks archivePath into destDir. Entries whose names would land
// outside destDir are skipped and returned so callers can log them.
func Extract(ctx context.Context, archivePath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	var skipped []string
	for _, file := range reader.File {
		if err := ctx.Err(); err != nil {
			return skipped, err
		}
		name := filepath.FromSlash(file.Name)
		if !filepath.IsLocal(name) {
			skipped = append(skipped, file.Name)
			continue
		}
		target := filepath.Join(destDir, name)

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return skipped, err
			}
			continue
		}
		if !file.Mode().IsRegular() {
			skipped = append(skipped, file.Name)
			continue
		}
		if err := extractFile(file, target); err != nil {
			return skipped, fmt.Errorf("extract %s: %w", file.Name, err)
		}
	}
	return skipped, nil
}

func extractFile(file *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, zip.ErrFormat) {
			return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}
		return err
	}
	return dst.Close()
}

// FindImages lists the image files directly inside dir, sorted by name.
// Images in nested directories are not considered.
func FindImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !hasImageExtension(entry.Name()) {
			continue
		}
		images = append(images, filepath.Join(dir, entry.Name()))
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	sort.Strings(images)
	return images, nil
}

func hasImageExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range ImageExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}
