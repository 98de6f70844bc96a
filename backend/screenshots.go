package backend

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// MTNGenerator renders contact sheets with mtn (Movie Thumbnailer) and
// individual screenshots with ffmpeg. The caller bounds concurrency; one
// Generate call does all its work in the calling goroutine.
type MTNGenerator struct {
	errors ErrorPublisher // optional, notified once when mtn is absent

	mtnMissing sync.Once
}

func NewMTNGenerator(errors ErrorPublisher) *MTNGenerator {
	return &MTNGenerator{errors: errors}
}

func (g *MTNGenerator) Generate(ctx context.Context, req GenerateRequest) (*GeneratedMedia, error) {
	media := &GeneratedMedia{}
	var warnings []string

	if req.ContactSheet {
		path, err := g.generateContactSheet(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			warnings = append(warnings, fmt.Sprintf("Contact sheet generation failed: %v", err))
			log.Printf("Failed to generate contact sheet for %s: %v", filepath.Base(req.FilePath), err)
		} else {
			media.ContactSheetPath = path
		}
	}

	if req.Screenshots && req.Count > 0 {
		interval := req.Duration / float64(req.Count+1)
		for i := 0; i < req.Count; i++ {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			timestamp := interval * float64(i+1)
			outputPath := filepath.Join(req.OutputDir, fmt.Sprintf("screenshot_%d.jpg", i+1))

			if err := g.generateScreenshot(ctx, req, outputPath, timestamp); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				warnings = append(warnings, fmt.Sprintf("Screenshot %d generation failed: %v", i+1, err))
				log.Printf("Failed to generate screenshot %d for %s: %v", i+1, filepath.Base(req.FilePath), err)
				continue
			}
			media.ScreenshotPaths = append(media.ScreenshotPaths, outputPath)
		}
	}

	media.Warnings = warnings
	if media.Empty() && len(warnings) > 0 {
		return nil, &GenerationError{Path: req.FilePath, Err: fmt.Errorf("%s", strings.Join(warnings, "; "))}
	}
	return media, nil
}

func (g *MTNGenerator) generateContactSheet(ctx context.Context, req GenerateRequest) (string, error) {
	if _, err := exec.LookPath("mtn"); err != nil {
		g.mtnMissing.Do(func() {
			if g.errors != nil {
				g.errors.PublishError("MTN (Movie Thumbnailer) is not installed or not found in PATH. Contact sheet generation will be skipped.")
			}
		})
		log.Printf("MTN not found, skipping contact sheet generation for %s", filepath.Base(req.FilePath))
		return "", nil
	}

	cmdArgs := append(parseToolArgs(req.MtnArgs), "-O", req.OutputDir, req.FilePath)

	cmd := exec.CommandContext(ctx, "mtn", cmdArgs...)
	hideWindow(cmd)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("contact sheet generation cancelled: %v", ctx.Err())
		}
		outputStr := strings.TrimSpace(string(output))
		if outputStr != "" {
			return "", fmt.Errorf("mtn command failed: %v\nOutput: %s", err, outputStr)
		}
		return "", fmt.Errorf("mtn command failed: %v", err)
	}

	return findContactSheet(req.OutputDir, req.FilePath)
}

// findContactSheet locates the sheet mtn wrote; mtn names it after the
// video file but older builds mangle the prefix, so fall back to the first
// jpg in the directory.
func findContactSheet(dir, videoPath string) (string, error) {
	videoBasename := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))

	files, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to read temp directory: %v", err)
	}

	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			if strings.HasPrefix(file.Name(), videoBasename) {
				return filepath.Join(dir, file.Name()), nil
			}
		}
	}

	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(strings.ToLower(file.Name()), ".jpg") {
			return filepath.Join(dir, file.Name()), nil
		}
	}

	return "", fmt.Errorf("contact sheet file not found after generation - no .jpg files in %s", dir)
}

func (g *MTNGenerator) generateScreenshot(ctx context.Context, req GenerateRequest, outputPath string, timestamp float64) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.2f", timestamp),
		"-i", req.FilePath,
		"-vframes", "1",
		"-q:v", fmt.Sprintf("%d", req.Quality),
		"-y",
		outputPath,
	)
	hideWindow(cmd)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("screenshot generation cancelled: %v", ctx.Err())
		}
		return fmt.Errorf("ffmpeg command failed: %v", err)
	}

	return nil
}

// parseToolArgs splits a raw argument string on spaces, honoring double
// quotes.
func parseToolArgs(raw string) []string {
	args := []string{}
	current := ""
	inQuotes := false

	for _, char := range raw {
		switch char {
		case '"':
			inQuotes = !inQuotes
		case ' ':
			if !inQuotes {
				if current != "" {
					args = append(args, current)
					current = ""
				}
			} else {
				current += string(char)
			}
		default:
			current += string(char)
		}
	}
	if current != "" {
		args = append(args, current)
	}

	return args
}

// copyFile copies a file from src to dst
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}

// saveGeneratedMedia copies the generated files into a per-movie
// subdirectory of the configured save directory.
func saveGeneratedMedia(dir string, movie Movie, media *GeneratedMedia) error {
	if dir == "" {
		return nil
	}

	movieName := sanitizeFileName(strings.TrimSuffix(movie.FileName, filepath.Ext(movie.FileName)))
	movieDir := filepath.Join(dir, movieName)

	if err := os.MkdirAll(movieDir, 0755); err != nil {
		return fmt.Errorf("failed to create movie directory: %v", err)
	}

	if media.ContactSheetPath != "" {
		destPath := filepath.Join(movieDir, "contact_sheet.jpg")
		if err := copyFile(media.ContactSheetPath, destPath); err != nil {
			log.Printf("Failed to save contact sheet for %s: %v", movie.FileName, err)
		}
	}

	for i, screenshotPath := range media.ScreenshotPaths {
		destPath := filepath.Join(movieDir, fmt.Sprintf("screenshot_%02d.jpg", i+1))
		if err := copyFile(screenshotPath, destPath); err != nil {
			log.Printf("Failed to save screenshot %d for %s: %v", i+1, movie.FileName, err)
		}
	}

	return nil
}

// sanitizeFileName removes or replaces characters that are invalid in
// file/directory names.
func sanitizeFileName(name string) string {
	invalidChars := []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"}
	result := name
	for _, char := range invalidChars {
		result = strings.ReplaceAll(result, char, "_")
	}
	// Windows rejects trailing spaces and dots
	result = strings.TrimRight(result, " .")
	if len(result) > 200 {
		result = result[:200]
	}
	return result
}
