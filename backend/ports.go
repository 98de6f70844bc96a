package backend

import (
	"context"

	"spoilgen/backend/img_uploaders"
)

// MediaProbe extracts technical metadata from a media file. A failure is
// fatal for the movie being analyzed; a non-video file must be reported as
// a *ValidationError.
type MediaProbe interface {
	Analyze(ctx context.Context, filePath string) (*MediaInfo, error)
}

// GenerateRequest describes one movie's screenshot/contact-sheet job.
type GenerateRequest struct {
	FilePath     string
	Duration     float64 // seconds, drives screenshot timestamps
	OutputDir    string
	Count        int
	Quality      int
	MtnArgs      string
	ContactSheet bool
	Screenshots  bool
}

// GeneratedMedia holds the local image paths produced for one movie.
// ContactSheetPath is empty when no sheet was produced; ScreenshotPaths
// contains only successfully written files, in timestamp order.
type GeneratedMedia struct {
	ContactSheetPath string
	ScreenshotPaths  []string
	Warnings         []string // per-item failures that did not sink the whole job
}

// Empty reports whether nothing was generated.
func (g *GeneratedMedia) Empty() bool {
	return g == nil || (g.ContactSheetPath == "" && len(g.ScreenshotPaths) == 0)
}

// ScreenshotGenerator produces contact sheets and screenshots for a file.
// Concurrency is bounded by the caller; implementations only honor ctx.
type ScreenshotGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GeneratedMedia, error)
}

// UploaderFactory builds the client for one host. The settings function is
// read lazily at upload time so credential changes apply to the next
// attempt, even mid-batch.
type UploaderFactory func(host Host, settings func() AppSettings) img_uploaders.Uploader

// StatePublisher receives a snapshot after every committed mutation of the
// movie collection. Delivery is at-least-once, synchronous with the commit.
type StatePublisher interface {
	PublishState(state AppState)
}

// ErrorPublisher receives user-facing, non-blocking error notices.
type ErrorPublisher interface {
	PublishError(message string)
}
