package section

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// SupportedFormats returns the file extensions Save understands.
func SupportedFormats() []string {
	return []string{".png", ".tiff", ".tif", ".jpg", ".jpeg"}
}

// IsSupportedFormat reports whether path has an extension Save understands.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}

// Save encodes img in the format named by the extension of path.
func Save(path string, img image.Image) error {
	if !IsSupportedFormat(path) {
		return fmt.Errorf("unsupported image format %q (want one of %s)",
			filepath.Ext(path), strings.Join(SupportedFormats(), ", "))
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(file, img)
	case ".tiff", ".tif":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 95})
	}
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to encode image: %w", err)
	}
	return file.Close()
}
