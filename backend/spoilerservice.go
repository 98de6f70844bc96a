package backend

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"spoilgen/backend/img_uploaders"
)

// SpoilerService is the pipeline orchestrator. It owns the movie
// collection, the batch lifecycle, cancellation and the two slot pools,
// and drives the probe, generator and uploader collaborators. The mutex is
// the single writer lock for the collection; external calls always happen
// outside it.
type SpoilerService struct {
	configManager *ConfigService
	probe         MediaProbe
	generator     ScreenshotGenerator
	newUploader   UploaderFactory
	statePub      StatePublisher
	errorPub      ErrorPublisher

	mu          sync.Mutex
	movies      []Movie
	settings    AppSettings
	processing  bool
	activeBatch *batch

	screenshotSlots *slotPool
	uploadSlots     *slotPool
}

// batch is the immutable context of one processing run. Limits and the
// upload plan are frozen at batch start; credentials are not (the
// uploaders read them lazily).
type batch struct {
	ctx       context.Context
	cancel    context.CancelFunc
	settings  AppSettings
	plan      uploadPlan
	uploaders map[Host]img_uploaders.Uploader
	tempDir   string
	done      chan struct{}
}

// Dependencies are the collaborators injected into the orchestrator. Nil
// fields fall back to the production implementations.
type Dependencies struct {
	Config    *ConfigService
	Probe     MediaProbe
	Generator ScreenshotGenerator
	Uploaders UploaderFactory
	State     StatePublisher
	Errors    ErrorPublisher
}

func NewSpoilerService(deps Dependencies) *SpoilerService {
	if deps.Config == nil {
		deps.Config = NewConfigService()
	}
	config := deps.Config.GetConfig()

	s := &SpoilerService{
		configManager: deps.Config,
		probe:         deps.Probe,
		generator:     deps.Generator,
		newUploader:   deps.Uploaders,
		statePub:      deps.State,
		errorPub:      deps.Errors,
		movies:        make([]Movie, 0),
		settings:      config.Settings(),
	}

	if s.probe == nil {
		s.probe = NewFFProbe()
	}
	if s.generator == nil {
		s.generator = NewMTNGenerator(deps.Errors)
	}
	if s.newUploader == nil {
		s.newUploader = defaultUploaderFactory
	}

	s.screenshotSlots = newSlotPool(s.settings.MaxConcurrentScreenshots)
	s.uploadSlots = newSlotPool(s.settings.MaxConcurrentUploads)
	return s
}

// defaultUploaderFactory builds the real host clients.
func defaultUploaderFactory(host Host, settings func() AppSettings) img_uploaders.Uploader {
	switch host {
	case HostFastpic:
		return img_uploaders.NewFastpicService(
			func() string { return settings().FastpicSID },
			func() int { return settings().ImageMiniatureSize },
		)
	case HostImgbox:
		svc, err := img_uploaders.NewImgboxService(
			func() int { return settings().ImageMiniatureSize },
		)
		if err != nil {
			log.Printf("Failed to create imgbox client: %v", err)
			return nil
		}
		return svc
	case HostHamster:
		svc, err := img_uploaders.NewHamsterService(func() (string, string) {
			st := settings()
			return st.HamsterEmail, st.HamsterPassword
		})
		if err != nil {
			log.Printf("Failed to create hamster client: %v", err)
			return nil
		}
		return svc
	}
	return nil
}

func (s *SpoilerService) currentSettings() AppSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// GetState returns a snapshot of the orchestrator state. Movies are deep
// copies; mutating the result never touches the live collection.
func (s *SpoilerService) GetState() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *SpoilerService) stateLocked() AppState {
	movies := make([]Movie, len(s.movies))
	for i, m := range s.movies {
		movies[i] = m.Clone()
	}
	return AppState{Processing: s.processing, Movies: movies}
}

// emitState publishes a snapshot. Called after every committed mutation.
func (s *SpoilerService) emitState() {
	if s.statePub == nil {
		return
	}
	s.statePub.PublishState(s.GetState())
}

func (s *SpoilerService) publishError(message string) {
	if s.errorPub != nil {
		s.errorPub.PublishError(message)
	}
}

func (s *SpoilerService) GetDefaultTemplate() string {
	return GetDefaultTemplate()
}

// updateMovie applies fn to the movie with the given id under the lock.
// Returns false when the movie is gone.
func (s *SpoilerService) updateMovie(id string, fn func(*Movie)) bool {
	s.mu.Lock()
	found := false
	for i := range s.movies {
		if s.movies[i].ID == id {
			fn(&s.movies[i])
			found = true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.emitState()
	}
	return found
}

func (s *SpoilerService) movieByID(id string) (Movie, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, movie := range s.movies {
		if movie.ID == id {
			return movie.Clone(), true
		}
	}
	return Movie{}, false
}

func (s *SpoilerService) setMovieState(id string, state ProcessingState) {
	s.updateMovie(id, func(m *Movie) {
		m.ProcessingState = state
	})
}

func (s *SpoilerService) failMovie(id, errorMsg string) {
	s.updateMovie(id, func(m *Movie) {
		m.ProcessingState = StateError
		m.ProcessingError = errorMsg
	})
}

func (s *SpoilerService) addMovieWarning(id, warning string) {
	s.updateMovie(id, func(m *Movie) {
		m.Errors = append(m.Errors, warning)
	})
}

// AddMovies ingests files and directories. Each usable path becomes a
// pending movie; metadata is filled in by the analysis stage when
// processing starts.
func (s *SpoilerService) AddMovies(filePaths []string) error {
	expandedPaths, err := expandFilePaths(filePaths)
	if err != nil {
		return err
	}
	if len(expandedPaths) == 0 {
		return nil
	}

	added := 0
	s.mu.Lock()
	for _, path := range expandedPaths {
		fileInfo, err := os.Stat(path)
		if err != nil {
			continue
		}

		movie := Movie{
			ID:              uuid.New().String(),
			FileName:        filepath.Base(path),
			FilePath:        path,
			FileSize:        FormatFileSize(fileInfo.Size()),
			FileSizeBytes:   fileInfo.Size(),
			OrderIndex:      len(s.movies),
			Params:          make(map[string]string),
			ProcessingState: StatePending,
		}
		s.movies = append(s.movies, movie)
		added++
	}
	s.mu.Unlock()

	s.emitState()
	log.Printf("Added %d files out of %d expanded paths", added, len(expandedPaths))
	return nil
}

func expandFilePaths(paths []string) ([]string, error) {
	var files []string

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		if info.IsDir() {
			err := filepath.WalkDir(path, func(filePath string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if !d.IsDir() {
					files = append(files, filePath)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else {
			files = append(files, path)
		}
	}

	sort.Strings(files)
	return files, nil
}

// RemoveMovie deletes a movie from the collection. A movie whose stage
// task is in flight cannot be removed; cancel or wait first.
func (s *SpoilerService) RemoveMovie(id string) error {
	s.mu.Lock()
	idx := -1
	for i, movie := range s.movies {
		if movie.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return &UnknownIDError{ID: id}
	}
	if s.processing && s.movies[idx].ProcessingState != StatePending && !s.movies[idx].ProcessingState.Terminal() {
		s.mu.Unlock()
		return ErrMovieBusy
	}
	s.movies = append(s.movies[:idx], s.movies[idx+1:]...)
	s.reindexLocked()
	s.mu.Unlock()

	s.emitState()
	return nil
}

// ClearMovies empties the collection, cancelling and draining any active
// batch first.
func (s *SpoilerService) ClearMovies() error {
	s.mu.Lock()
	b := s.activeBatch
	s.mu.Unlock()

	if b != nil {
		b.cancel()
		<-b.done
	}

	s.mu.Lock()
	s.movies = make([]Movie, 0)
	s.mu.Unlock()

	s.emitState()
	return nil
}

// ReorderMovies atomically rewrites the order. The id sequence must be a
// permutation of the current collection.
func (s *SpoilerService) ReorderMovies(newOrder []string) error {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.emitState()
	}()

	movieMap := make(map[string]Movie, len(s.movies))
	for _, movie := range s.movies {
		movieMap[movie.ID] = movie
	}

	if len(newOrder) != len(s.movies) {
		return fmt.Errorf("reorder must list every movie exactly once (%d given, %d present)", len(newOrder), len(s.movies))
	}

	reordered := make([]Movie, 0, len(newOrder))
	for _, id := range newOrder {
		movie, exists := movieMap[id]
		if !exists {
			return &UnknownIDError{ID: id}
		}
		delete(movieMap, id)
		reordered = append(reordered, movie)
	}

	s.movies = reordered
	s.reindexLocked()
	return nil
}

func (s *SpoilerService) reindexLocked() {
	for i := range s.movies {
		s.movies[i].OrderIndex = i
	}
}

// ResetMovieStatuses returns movies to pending and clears their results so
// a batch can be re-run. Movies with an in-flight stage task are skipped.
func (s *SpoilerService) ResetMovieStatuses() {
	s.mu.Lock()
	for i := range s.movies {
		state := s.movies[i].ProcessingState
		if s.processing && state != StatePending && !state.Terminal() {
			continue
		}
		s.movies[i].ProcessingState = StatePending
		s.movies[i].ProcessingError = ""
		s.movies[i].Errors = nil
		s.movies[i].Artifacts = nil
	}
	s.mu.Unlock()
	s.emitState()
}

// StartProcessing begins a batch for every pending movie, in order. It
// returns immediately; stage work happens in per-movie goroutines. A
// second start while a batch is active fails with ErrAlreadyProcessing.
func (s *SpoilerService) StartProcessing() error {
	template := s.configManager.GetCurrentTemplate()

	tempDir, err := os.MkdirTemp("", "media_processing_*")
	if err != nil {
		return fmt.Errorf("failed to create temp directory: %v", err)
	}

	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		os.RemoveAll(tempDir)
		return ErrAlreadyProcessing
	}

	var pendingIDs []string
	for _, movie := range s.movies {
		if movie.ProcessingState == StatePending {
			pendingIDs = append(pendingIDs, movie.ID)
		}
	}
	if len(pendingIDs) == 0 {
		s.mu.Unlock()
		os.RemoveAll(tempDir)
		return ErrNoPendingMovies
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &batch{
		ctx:      ctx,
		cancel:   cancel,
		settings: s.settings,
		plan:     planFromTemplate(template),
		tempDir:  tempDir,
		done:     make(chan struct{}),
	}
	s.processing = true
	s.activeBatch = b
	s.mu.Unlock()

	b.uploaders = s.initUploaders(b)
	s.emitState()

	log.Printf("Starting media processing for %d movies (screenshot limit: %d, upload limit: %d)",
		len(pendingIDs), b.settings.MaxConcurrentScreenshots, b.settings.MaxConcurrentUploads)

	go s.runBatch(b, pendingIDs)
	return nil
}

// initUploaders builds a client per enabled host. Hosts that cannot be
// served (missing credentials, client bootstrap failure) are dropped from
// the plan with a user-facing notice.
func (s *SpoilerService) initUploaders(b *batch) map[Host]img_uploaders.Uploader {
	uploaders := make(map[Host]img_uploaders.Uploader)
	for host := range b.plan {
		if host == HostHamster && (b.settings.HamsterEmail == "" || b.settings.HamsterPassword == "") {
			s.publishError("Hamster credentials are not configured; hamster uploads will be skipped.")
			delete(b.plan, host)
			continue
		}
		uploader := s.newUploader(host, s.currentSettings)
		if uploader == nil {
			s.publishError(fmt.Sprintf("Could not initialize %s uploader; %s uploads will be skipped.", host, host))
			delete(b.plan, host)
			continue
		}
		uploaders[host] = uploader
	}
	return uploaders
}

// CancelProcessing signals cancellation to the active batch. Stage tasks
// observe it at the next boundary; results of in-flight external calls are
// discarded and affected movies return to pending when the batch drains.
func (s *SpoilerService) CancelProcessing() {
	s.mu.Lock()
	b := s.activeBatch
	s.mu.Unlock()

	if b != nil {
		b.cancel()
	}
}

func (s *SpoilerService) runBatch(b *batch, ids []string) {
	defer close(b.done)
	defer os.RemoveAll(b.tempDir)
	defer b.cancel()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			s.processMovie(b, id)
		}(id)
	}
	wg.Wait()

	// Drain: whatever did not reach a terminal state (cancellation,
	// removal races) goes back to pending with no partial results.
	s.mu.Lock()
	for i := range s.movies {
		if !s.movies[i].ProcessingState.Terminal() {
			s.movies[i].ProcessingState = StatePending
			s.movies[i].ProcessingError = ""
			s.movies[i].Errors = nil
			s.movies[i].Artifacts = nil
		}
	}
	s.processing = false
	s.activeBatch = nil
	s.mu.Unlock()

	s.emitState()
	log.Println("Processing completed")
}

// processMovie runs the stage sequence for one movie. Stages are strictly
// sequential; cancellation is checked at every boundary and before every
// external call.
func (s *SpoilerService) processMovie(b *batch, id string) {
	if b.ctx.Err() != nil {
		return
	}

	if !s.updateMovie(id, func(m *Movie) {
		m.Errors = nil
		m.ProcessingState = StateAnalyzingMedia
	}) {
		return
	}

	movie, ok := s.movieByID(id)
	if !ok {
		return
	}

	mediaInfo, err := s.probe.Analyze(b.ctx, movie.FilePath)
	if err != nil {
		if b.ctx.Err() != nil {
			return
		}
		s.failMovie(id, err.Error())
		return
	}
	s.updateMovie(id, func(m *Movie) {
		applyMediaInfo(m, mediaInfo)
		m.ProcessingState = StateWaitingForScreenshotSlot
	})

	media := s.generateStage(b, id)
	if media == nil {
		return
	}

	movie, ok = s.movieByID(id)
	if !ok {
		return
	}
	if err := saveGeneratedMedia(b.settings.SaveMediaDirectory, movie, media); err != nil {
		s.addMovieWarning(id, fmt.Sprintf("Failed to save media to directory: %v", err))
	}

	if len(b.uploaders) == 0 {
		// nothing to upload for this template
		s.setMovieState(id, StateCompleted)
		return
	}

	s.setMovieState(id, StateWaitingForUploadSlot)
	release, err := s.uploadSlots.Acquire(b.ctx)
	if err != nil {
		return
	}
	defer release()

	s.setMovieState(id, StateUploadingScreenshots)
	succeededHosts := s.uploadStage(b, id, media)

	if b.ctx.Err() != nil {
		return
	}

	if succeededHosts == 0 {
		s.failMovie(id, fmt.Sprintf("Upload failed for all %d enabled hosts", len(b.uploaders)))
		return
	}
	s.setMovieState(id, StateCompleted)
}

// generateStage runs the screenshot/contact-sheet stage under a screenshot
// slot. Returns nil when the movie cannot continue (error or cancel).
func (s *SpoilerService) generateStage(b *batch, id string) *GeneratedMedia {
	release, err := s.screenshotSlots.Acquire(b.ctx)
	if err != nil {
		return nil
	}
	defer release()

	s.setMovieState(id, StateGeneratingScreenshots)

	movie, ok := s.movieByID(id)
	if !ok {
		return nil
	}

	movieTempDir := filepath.Join(b.tempDir, id)
	if err := os.MkdirAll(movieTempDir, 0755); err != nil {
		s.failMovie(id, fmt.Sprintf("Failed to create temp directory: %v", err))
		return nil
	}

	media, err := s.generator.Generate(b.ctx, GenerateRequest{
		FilePath:     movie.FilePath,
		Duration:     movie.Duration,
		OutputDir:    movieTempDir,
		Count:        b.settings.ScreenshotCount,
		Quality:      b.settings.ScreenshotQuality,
		MtnArgs:      b.settings.MtnArgs,
		ContactSheet: b.plan.needsContactSheet(),
		Screenshots:  b.plan.needsScreenshots(),
	})
	if b.ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.failMovie(id, fmt.Sprintf("Media generation failed: %v", err))
		return nil
	}

	for _, warning := range media.Warnings {
		s.addMovieWarning(id, warning)
	}
	if media.Empty() {
		s.failMovie(id, "No media generated")
		return nil
	}
	return media
}

// uploadStage uploads the generated media to every enabled host. Hosts run
// concurrently; one host's images upload sequentially so artifact order is
// stable. Returns the number of hosts with at least one successful upload.
func (s *SpoilerService) uploadStage(b *batch, id string, media *GeneratedMedia) int {
	var wg sync.WaitGroup
	var succeeded atomic.Int32

	for host, hp := range b.plan {
		uploader := b.uploaders[host]
		if uploader == nil {
			continue
		}
		wg.Add(1)
		go func(host Host, hp hostPlan, uploader img_uploaders.Uploader) {
			defer wg.Done()
			if s.uploadToHost(b, id, host, hp, uploader, media) {
				succeeded.Add(1)
			}
		}(host, hp, uploader)
	}
	wg.Wait()

	return int(succeeded.Load())
}

func (s *SpoilerService) uploadToHost(b *batch, id string, host Host, hp hostPlan, uploader img_uploaders.Uploader, media *GeneratedMedia) bool {
	uploadedAny := false

	record := func(result *img_uploaders.UploadResult, thumbVariant, bigVariant string) {
		s.updateMovie(id, func(m *Movie) {
			m.addArtifact(host, thumbVariant, result.BBThumb)
			m.addArtifact(host, bigVariant, result.BBBig)
			if result.AlbumLink != "" && len(m.artifact(host, VariantAlbum)) == 0 {
				m.addArtifact(host, VariantAlbum, result.AlbumLink)
			}
		})
	}

	if hp.ContactSheet && media.ContactSheetPath != "" {
		if b.ctx.Err() != nil {
			return uploadedAny
		}
		result, err := uploader.Upload(b.ctx, media.ContactSheetPath)
		if err != nil {
			if b.ctx.Err() == nil {
				uploadErr := &UploadError{Host: host, Err: err}
				s.addMovieWarning(id, fmt.Sprintf("%s contact sheet upload failed: %v", host, err))
				log.Printf("Contact sheet upload for movie %s: %v", id, uploadErr)
			}
		} else {
			record(result, VariantContactSheet, VariantContactSheetBig)
			uploadedAny = true
		}
	}

	if hp.Screenshots {
		for i, screenshotPath := range media.ScreenshotPaths {
			if b.ctx.Err() != nil {
				return uploadedAny
			}
			result, err := uploader.Upload(b.ctx, screenshotPath)
			if err != nil {
				if b.ctx.Err() == nil {
					uploadErr := &UploadError{Host: host, Err: err}
					s.addMovieWarning(id, fmt.Sprintf("%s screenshot %d upload failed: %v", host, i+1, err))
					log.Printf("Screenshot upload for movie %s: %v", id, uploadErr)
				}
				continue
			}
			record(result, VariantScreens, VariantScreensBig)
			uploadedAny = true
		}
	}

	return uploadedAny
}

// Settings management

func (s *SpoilerService) GetSettings() AppSettings {
	return s.currentSettings()
}

// UpdateSettings replaces the settings record atomically and persists it.
// New concurrency limits apply to acquisitions made after the call;
// in-flight stage work keeps its slots.
func (s *SpoilerService) UpdateSettings(settings AppSettings) error {
	config := s.configManager.GetConfig()
	config.ScreenshotCount = settings.ScreenshotCount
	config.FastpicSID = settings.FastpicSID
	config.ScreenshotQuality = settings.ScreenshotQuality
	config.MaxConcurrentScreenshots = settings.MaxConcurrentScreenshots
	config.MaxConcurrentUploads = settings.MaxConcurrentUploads
	config.MtnArgs = settings.MtnArgs
	config.ImageMiniatureSize = settings.ImageMiniatureSize
	config.HamsterEmail = settings.HamsterEmail
	config.HamsterPassword = settings.HamsterPassword
	config.SaveMediaDirectory = settings.SaveMediaDirectory

	if err := s.configManager.UpdateConfig(config); err != nil {
		return err
	}

	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()

	s.screenshotSlots.Resize(settings.MaxConcurrentScreenshots)
	s.uploadSlots.Resize(settings.MaxConcurrentUploads)
	return nil
}

// ValidateSaveMediaDirectory checks the chosen directory is writable.
func ValidateSaveMediaDirectory(dir string) error {
	testFile := filepath.Join(dir, ".spoilgen_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return fmt.Errorf("directory is not writable: %v", err)
	}
	os.Remove(testFile)
	return nil
}

// Result generation

// GenerateResultForMovie renders the current template against one movie.
// Rendering never fails for an incomplete movie; absent artifacts come out
// empty.
func (s *SpoilerService) GenerateResultForMovie(movieID string) (string, error) {
	movie, ok := s.movieByID(movieID)
	if !ok {
		return "", &UnknownIDError{ID: movieID}
	}
	return RenderTemplate(movie, s.configManager.GetCurrentTemplate()), nil
}

// GenerateResult concatenates the rendered output of every completed
// movie, in display order.
func (s *SpoilerService) GenerateResult() string {
	state := s.GetState()
	template := s.configManager.GetCurrentTemplate()

	var result strings.Builder
	for _, movie := range state.Movies {
		if movie.ProcessingState != StateCompleted {
			continue
		}
		result.WriteString(RenderTemplate(movie, template))
		result.WriteString("\n")
	}
	return result.String()
}

// Template management

func (s *SpoilerService) GetTemplate() string {
	return s.configManager.GetCurrentTemplate()
}

func (s *SpoilerService) SetTemplate(template string) error {
	return s.configManager.SetCurrentTemplate(template)
}

func (s *SpoilerService) GetTemplatePresets() []TemplatePreset {
	return s.configManager.GetConfig().TemplatePresets
}

func (s *SpoilerService) GetCurrentPresetID() string {
	return s.configManager.GetConfig().CurrentPresetID
}

func (s *SpoilerService) SaveTemplatePreset(name, template string) (TemplatePreset, error) {
	if name == "" {
		return TemplatePreset{}, fmt.Errorf("preset name cannot be empty")
	}
	if template == "" {
		return TemplatePreset{}, fmt.Errorf("template cannot be empty")
	}

	return s.configManager.SaveTemplatePreset(TemplatePreset{
		Name:     name,
		Template: template,
	})
}

func (s *SpoilerService) DeleteTemplatePreset(presetID string) error {
	return s.configManager.DeleteTemplatePreset(presetID)
}

func (s *SpoilerService) SetCurrentPreset(presetID string) error {
	return s.configManager.SetCurrentPreset(presetID)
}
