package main

import (
	"embed"
	"errors"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/sqweek/dialog"
	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"spoilgen/backend"
)

//go:embed all:frontend/dist
var assets embed.FS

func showErrorDialog(title, message string) {
	log.Printf("FATAL ERROR: %s - %s", title, message)
	dialog.Message("%s", message).Title(title).Error()
	os.Exit(1)
}

func checkExecutable(name string) error {
	_, err := exec.LookPath(name)
	return err
}

func ensureFFmpeg() error {
	var missing []string

	if err := checkExecutable("ffmpeg"); err != nil {
		missing = append(missing, "ffmpeg")
	}

	if err := checkExecutable("ffprobe"); err != nil {
		missing = append(missing, "ffprobe")
	}

	if len(missing) > 0 {
		var errorMsg strings.Builder
		errorMsg.WriteString("The following FFmpeg components are missing:\n\n")

		for _, component := range missing {
			errorMsg.WriteString("• " + component + "\n")
		}

		errorMsg.WriteString("\nPlease install FFmpeg and ensure these components are available in your system PATH.")

		if len(missing) == 2 {
			errorMsg.WriteString("\n\nNote: Both ffmpeg and ffprobe are required for full functionality.")
		}

		return errors.New(errorMsg.String())
	}

	return nil
}

// eventBridge forwards backend publications to the frontend as Wails
// events. The app reference is set after application.New; publications
// before that are dropped.
type eventBridge struct {
	app *application.App
}

func (b *eventBridge) PublishState(state backend.AppState) {
	if b.app == nil {
		return
	}
	b.app.Event.Emit("state", state)
}

func (b *eventBridge) PublishError(message string) {
	if b.app == nil {
		return
	}
	b.app.Event.Emit("error", map[string]string{
		"message": message,
	})
}

// uiService holds the boundary methods that need the window system.
type uiService struct {
	app *application.App
}

// SelectSaveMediaDirectory opens a directory picker and validates the
// chosen directory is writable. Cancelling returns an empty string.
func (u *uiService) SelectSaveMediaDirectory() (string, error) {
	selectedDir, err := u.app.Dialog.OpenFile().
		SetTitle("Select Save Media Directory").
		CanChooseDirectories(true).
		CanChooseFiles(false).
		CanCreateDirectories(true).
		PromptForSingleSelection()

	if err != nil {
		return "", err
	}
	if selectedDir == "" {
		return "", nil
	}

	if err := backend.ValidateSaveMediaDirectory(selectedDir); err != nil {
		return "", err
	}
	return selectedDir, nil
}

func main() {
	if err := ensureFFmpeg(); err != nil {
		showErrorDialog("FFmpeg Components Missing", err.Error())
		return
	}

	bridge := &eventBridge{}
	ui := &uiService{}

	spoilerService := backend.NewSpoilerService(backend.Dependencies{
		State:  bridge,
		Errors: bridge,
	})

	app := application.New(application.Options{
		Name:        "Spoilgen",
		Description: "Media analyzer with screenshot generation and image host uploads",
		Services: []application.Service{
			application.NewService(spoilerService),
			application.NewService(ui),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(assets),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
	})

	bridge.app = app
	ui.app = app

	window := app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:             "Spoilgen",
		EnableDragAndDrop: true,
		DisableResize:     true,
		URL:               "/",
		Width:             1200,
		Height:            800,
		MaxWidth:          1200,
		MaxHeight:         800,
	})

	window.OnWindowEvent(events.Common.WindowFilesDropped, func(event *application.WindowEvent) {
		paths := event.Context().DroppedFiles()
		log.Printf("Files dropped: %v", paths)

		if err := spoilerService.AddMovies(paths); err != nil {
			log.Printf("Error adding movies: %v", err)
		}
	})

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
