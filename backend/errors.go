package backend

import (
	"errors"
	"fmt"
)

// Command-level errors, surfaced synchronously to the caller.
var (
	ErrAlreadyProcessing = errors.New("processing already in progress")
	ErrNoPendingMovies   = errors.New("no pending movies to process")
	ErrMovieBusy         = errors.New("movie is currently being processed")
)

// UnknownIDError reports a command referencing a movie that is not in the
// collection.
type UnknownIDError struct {
	ID string
}

func (e *UnknownIDError) Error() string {
	return fmt.Sprintf("movie with ID %s not found", e.ID)
}

// UnknownPresetError reports a command referencing a missing template preset.
type UnknownPresetError struct {
	ID string
}

func (e *UnknownPresetError) Error() string {
	return fmt.Sprintf("preset %s not found", e.ID)
}

// AnalysisError is a fatal media probe failure for one movie.
type AnalysisError struct {
	Path string
	Err  error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("media analysis failed for %s: %v", e.Path, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// ValidationError marks a file that is not usable video input.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid media file %s: %s", e.Path, e.Reason)
}

// GenerationError is a fatal screenshot/contact-sheet tool failure.
type GenerationError struct {
	Path string
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("media generation failed for %s: %v", e.Path, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// UploadError is a per-host upload failure. It is a warning unless every
// enabled host fails for the same movie.
type UploadError struct {
	Host Host
	Err  error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s upload failed: %v", e.Host, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }
