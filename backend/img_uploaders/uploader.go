// Package img_uploaders contains the clients for the supported image hosts.
// Each client implements Uploader; auth material is fetched lazily on the
// first upload so credential changes apply to the next attempt.
package img_uploaders

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
)

// UploadResult is the hosted form of one uploaded image.
type UploadResult struct {
	BBThumb   string `json:"bbThumb"`   // BBCode linking the miniature
	BBBig     string `json:"bbBig"`     // BBCode linking the full-size image
	AlbumLink string `json:"albumLink"` // album/gallery link, if the host has one
}

// Uploader uploads a local image to one host.
type Uploader interface {
	Upload(ctx context.Context, filePath string) (*UploadResult, error)
}

var imageExts = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp"}

// validateImageFile checks the file exists and is non-empty, returning its
// base name. An unexpected extension only logs a warning.
func validateImageFile(filePath string) (string, error) {
	fileName := filepath.Base(filePath)

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return "", fmt.Errorf("file not found: %v", err)
	}
	if fileInfo.Size() == 0 {
		return "", fmt.Errorf("file is empty")
	}

	if !slices.Contains(imageExts, filepath.Ext(fileName)) {
		log.Printf("Warning: file %s may not be a valid image format", fileName)
	}

	return fileName, nil
}
