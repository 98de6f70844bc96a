package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spoilgen/backend/img_uploaders"
)

type fakeProbe struct {
	err error
}

func (f *fakeProbe) Analyze(ctx context.Context, filePath string) (*MediaInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &MediaInfo{
		General: map[string]string{"duration": "60.0", "bit_rate": "1000000"},
		Video:   map[string]string{"width": "1920", "height": "1080", "codec_name": "h264", "fps_decimal": "25.00"},
		Audio:   map[string]string{"codec_name": "aac", "sample_rate": "48000", "channels": "2"},
	}, nil
}

type fakeGenerator struct {
	gate  chan struct{} // non-nil blocks Generate until closed
	delay time.Duration
	err   error

	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GeneratedMedia, error) {
	f.calls.Add(1)
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	media := &GeneratedMedia{
		ContactSheetPath: filepath.Join(req.OutputDir, "contact_sheet.jpg"),
		ScreenshotPaths: []string{
			filepath.Join(req.OutputDir, "screenshot_1.jpg"),
			filepath.Join(req.OutputDir, "screenshot_2.jpg"),
		},
	}
	for _, path := range append([]string{media.ContactSheetPath}, media.ScreenshotPaths...) {
		if err := os.WriteFile(path, []byte("jpeg"), 0644); err != nil {
			return nil, err
		}
	}
	return media, nil
}

type fakeUploader struct {
	prefix string
	err    error

	mu    sync.Mutex
	calls []string
}

func (f *fakeUploader) Upload(ctx context.Context, filePath string) (*img_uploaders.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, filePath)
	n := len(f.calls)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &img_uploaders.UploadResult{
		BBThumb:   fmt.Sprintf("[%s-thumb-%d]", f.prefix, n),
		BBBig:     fmt.Sprintf("[%s-big-%d]", f.prefix, n),
		AlbumLink: fmt.Sprintf("https://%s.example/album", f.prefix),
	}, nil
}

func (f *fakeUploader) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type publishRecorder struct {
	mu     sync.Mutex
	states []AppState
	errors []string
}

func (r *publishRecorder) PublishState(state AppState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *publishRecorder) PublishError(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, message)
}

func (r *publishRecorder) errorMessages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}

type testEnv struct {
	svc       *SpoilerService
	probe     *fakeProbe
	gen       *fakeGenerator
	uploaders map[Host]*fakeUploader
	rec       *publishRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		probe: &fakeProbe{},
		gen:   &fakeGenerator{},
		uploaders: map[Host]*fakeUploader{
			HostFastpic: {prefix: "fp"},
			HostImgbox:  {prefix: "ib"},
			HostHamster: {prefix: "ham"},
		},
		rec: &publishRecorder{},
	}

	env.svc = NewSpoilerService(Dependencies{
		Config:    NewConfigServiceAt(filepath.Join(t.TempDir(), "spoilgen.config")),
		Probe:     env.probe,
		Generator: env.gen,
		Uploaders: func(host Host, settings func() AppSettings) img_uploaders.Uploader {
			return env.uploaders[host]
		},
		State:  env.rec,
		Errors: env.rec,
	})
	return env
}

func addTestMovies(t *testing.T, svc *SpoilerService, names ...string) []string {
	t.Helper()

	dir := t.TempDir()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("fake video data"), 0644))
		paths = append(paths, path)
	}
	require.NoError(t, svc.AddMovies(paths))

	state := svc.GetState()
	ids := make([]string, 0, len(state.Movies))
	for _, movie := range state.Movies {
		ids = append(ids, movie.ID)
	}
	return ids
}

func waitIdle(t *testing.T, svc *SpoilerService) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !svc.GetState().Processing
	}, 5*time.Second, 5*time.Millisecond)
}

func movieByIndex(t *testing.T, svc *SpoilerService, i int) Movie {
	t.Helper()
	state := svc.GetState()
	require.Greater(t, len(state.Movies), i)
	return state.Movies[i]
}

func TestAddMoviesCreatesPendingEntries(t *testing.T) {
	env := newTestEnv(t)
	addTestMovies(t, env.svc, "a.mp4", "b.mkv")

	state := env.svc.GetState()
	require.Len(t, state.Movies, 2)
	assert.Equal(t, "a.mp4", state.Movies[0].FileName)
	assert.Equal(t, "b.mkv", state.Movies[1].FileName)
	for i, movie := range state.Movies {
		assert.Equal(t, i, movie.OrderIndex)
		assert.Equal(t, StatePending, movie.ProcessingState)
		assert.NotEmpty(t, movie.ID)
		assert.Equal(t, int64(15), movie.FileSizeBytes)
	}
}

func TestAddMoviesExpandsDirectories(t *testing.T) {
	env := newTestEnv(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.mp4"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.mp4"), []byte("x"), 0644))

	require.NoError(t, env.svc.AddMovies([]string{dir}))

	state := env.svc.GetState()
	require.Len(t, state.Movies, 2)
	// Expansion sorts by full path, so b.mp4 precedes sub/a.mp4.
	assert.Equal(t, "b.mp4", state.Movies[0].FileName)
	assert.Equal(t, "a.mp4", state.Movies[1].FileName)
}

func TestStartProcessingNoPendingMovies(t *testing.T) {
	env := newTestEnv(t)
	assert.ErrorIs(t, env.svc.StartProcessing(), ErrNoPendingMovies)
}

func TestStartProcessingTwiceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.gen.gate = make(chan struct{})
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	assert.ErrorIs(t, env.svc.StartProcessing(), ErrAlreadyProcessing)
	assert.ErrorIs(t, env.svc.StartProcessing(), ErrAlreadyProcessing)

	env.svc.CancelProcessing()
	waitIdle(t, env.svc)

	// After the batch drains the movie is pending again and can be re-run.
	close(env.gen.gate)
	env.gen.gate = nil
	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)
}

func TestPipelineCompletesAndCollectsArtifacts(t *testing.T) {
	env := newTestEnv(t)
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)
	assert.Empty(t, movie.ProcessingError)
	assert.Equal(t, "1920", movie.Width)
	assert.Equal(t, "1080", movie.Height)
	assert.Equal(t, "1:00", movie.DurationFormatted)

	// Default template enables fastpic only; contact sheet uploads first,
	// then the screenshots in order.
	assert.Equal(t, 3, env.uploaders[HostFastpic].callCount())
	assert.Zero(t, env.uploaders[HostImgbox].callCount())
	assert.Zero(t, env.uploaders[HostHamster].callCount())

	assert.Equal(t, []string{"[fp-thumb-1]"}, movie.Artifacts[ArtifactKey(HostFastpic, VariantContactSheet)])
	assert.Equal(t, []string{"[fp-big-1]"}, movie.Artifacts[ArtifactKey(HostFastpic, VariantContactSheetBig)])
	assert.Equal(t, []string{"[fp-thumb-2]", "[fp-thumb-3]"}, movie.Artifacts[ArtifactKey(HostFastpic, VariantScreens)])
	assert.Equal(t, []string{"[fp-big-2]", "[fp-big-3]"}, movie.Artifacts[ArtifactKey(HostFastpic, VariantScreensBig)])
	assert.Equal(t, []string{"https://fp.example/album"}, movie.Artifacts[ArtifactKey(HostFastpic, VariantAlbum)])
}

func TestGenerateResultRendersCompletedMovies(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%FILE_NAME%: %SCREENSHOTS_FP_SPACED%"))
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	// No contact sheet token, so only the two screenshots upload.
	assert.Equal(t, "a.mp4: [fp-thumb-1] [fp-thumb-2]\n", env.svc.GenerateResult())

	ids := []string{movieByIndex(t, env.svc, 0).ID}
	perMovie, err := env.svc.GenerateResultForMovie(ids[0])
	require.NoError(t, err)
	assert.Equal(t, "a.mp4: [fp-thumb-1] [fp-thumb-2]", perMovie)
}

func TestGenerateResultForUnknownMovie(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.GenerateResultForMovie("missing")
	var unknownID *UnknownIDError
	require.ErrorAs(t, err, &unknownID)
	assert.Equal(t, "missing", unknownID.ID)
}

func TestAnalysisFailureSetsErrorState(t *testing.T) {
	env := newTestEnv(t)
	env.probe.err = &ValidationError{Path: "a.mp4", Reason: "no video stream found"}
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateError, movie.ProcessingState)
	assert.Contains(t, movie.ProcessingError, "no video stream found")
	assert.Zero(t, env.uploaders[HostFastpic].callCount())
}

func TestGenerationFailureSetsErrorState(t *testing.T) {
	env := newTestEnv(t)
	env.gen.err = errors.New("mtn exploded")
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateError, movie.ProcessingState)
	assert.Contains(t, movie.ProcessingError, "mtn exploded")
}

func TestAllHostsFailingSetsErrorState(t *testing.T) {
	env := newTestEnv(t)
	env.uploaders[HostFastpic].err = errors.New("503 from host")
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateError, movie.ProcessingState)
	assert.Contains(t, movie.ProcessingError, "Upload failed for all")
	assert.NotEmpty(t, movie.Errors)
	assert.Empty(t, movie.Artifacts)
}

func TestPartialHostFailureCompletesWithWarnings(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%SCREENSHOTS_FP%\n%SCREENSHOTS_IB%"))
	env.uploaders[HostFastpic].err = errors.New("503 from host")
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)
	assert.Empty(t, movie.ProcessingError)
	require.NotEmpty(t, movie.Errors)
	assert.Contains(t, movie.Errors[0], "fastpic")

	assert.Empty(t, movie.Artifacts[ArtifactKey(HostFastpic, VariantScreens)])
	assert.Len(t, movie.Artifacts[ArtifactKey(HostImgbox, VariantScreens)], 2)
}

func TestTemplateWithoutHostTokensSkipsUploads(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%FILE_NAME% / %DURATION%"))
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)
	for _, uploader := range env.uploaders {
		assert.Zero(t, uploader.callCount())
	}
	assert.Equal(t, "a.mp4 / 1:00\n", env.svc.GenerateResult())
}

func TestHamsterSkippedWithoutCredentials(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%SCREENSHOTS_HAM%"))
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)
	assert.Zero(t, env.uploaders[HostHamster].callCount())

	messages := env.rec.errorMessages()
	require.NotEmpty(t, messages)
	assert.Contains(t, messages[0], "Hamster credentials")
}

func TestHamsterUploadsWithCredentials(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%SCREENSHOTS_HAM%"))

	settings := env.svc.GetSettings()
	settings.HamsterEmail = "user@example.com"
	settings.HamsterPassword = "hunter2"
	require.NoError(t, env.svc.UpdateSettings(settings))

	addTestMovies(t, env.svc, "a.mp4")
	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)
	assert.Equal(t, 2, env.uploaders[HostHamster].callCount())
}

func TestCancelReturnsMoviesToPending(t *testing.T) {
	env := newTestEnv(t)
	env.gen.gate = make(chan struct{})
	addTestMovies(t, env.svc, "a.mp4", "b.mp4")

	require.NoError(t, env.svc.StartProcessing())
	require.Eventually(t, func() bool {
		return env.gen.calls.Load() > 0
	}, 5*time.Second, 5*time.Millisecond)

	env.svc.CancelProcessing()
	waitIdle(t, env.svc)

	state := env.svc.GetState()
	assert.False(t, state.Processing)
	for _, movie := range state.Movies {
		assert.Equal(t, StatePending, movie.ProcessingState)
		assert.Empty(t, movie.ProcessingError)
		assert.Empty(t, movie.Errors)
		assert.Empty(t, movie.Artifacts)
	}
}

func TestScreenshotConcurrencyLimit(t *testing.T) {
	env := newTestEnv(t)
	env.gen.delay = 20 * time.Millisecond

	settings := env.svc.GetSettings()
	settings.MaxConcurrentScreenshots = 1
	settings.MaxConcurrentUploads = 1
	require.NoError(t, env.svc.UpdateSettings(settings))

	addTestMovies(t, env.svc, "a.mp4", "b.mp4", "c.mp4", "d.mp4")
	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	assert.Equal(t, int32(4), env.gen.calls.Load())
	assert.LessOrEqual(t, env.gen.peak.Load(), int32(1))
}

func TestRemoveMovie(t *testing.T) {
	env := newTestEnv(t)
	ids := addTestMovies(t, env.svc, "a.mp4", "b.mp4", "c.mp4")

	require.NoError(t, env.svc.RemoveMovie(ids[1]))

	state := env.svc.GetState()
	require.Len(t, state.Movies, 2)
	assert.Equal(t, "a.mp4", state.Movies[0].FileName)
	assert.Equal(t, "c.mp4", state.Movies[1].FileName)
	assert.Equal(t, 0, state.Movies[0].OrderIndex)
	assert.Equal(t, 1, state.Movies[1].OrderIndex)

	var unknownID *UnknownIDError
	assert.ErrorAs(t, env.svc.RemoveMovie("missing"), &unknownID)
}

func TestRemoveMovieBusyDuringProcessing(t *testing.T) {
	env := newTestEnv(t)
	env.gen.gate = make(chan struct{})
	ids := addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	require.Eventually(t, func() bool {
		return env.gen.calls.Load() > 0
	}, 5*time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, env.svc.RemoveMovie(ids[0]), ErrMovieBusy)

	env.svc.CancelProcessing()
	waitIdle(t, env.svc)
	assert.NoError(t, env.svc.RemoveMovie(ids[0]))
}

func TestClearMoviesDrainsActiveBatch(t *testing.T) {
	env := newTestEnv(t)
	env.gen.gate = make(chan struct{})
	addTestMovies(t, env.svc, "a.mp4", "b.mp4")

	require.NoError(t, env.svc.StartProcessing())
	require.NoError(t, env.svc.ClearMovies())

	state := env.svc.GetState()
	assert.False(t, state.Processing)
	assert.Empty(t, state.Movies)
}

func TestReorderMovies(t *testing.T) {
	env := newTestEnv(t)
	ids := addTestMovies(t, env.svc, "a.mp4", "b.mp4", "c.mp4")

	require.NoError(t, env.svc.ReorderMovies([]string{ids[2], ids[0], ids[1]}))

	state := env.svc.GetState()
	assert.Equal(t, "c.mp4", state.Movies[0].FileName)
	assert.Equal(t, "a.mp4", state.Movies[1].FileName)
	assert.Equal(t, "b.mp4", state.Movies[2].FileName)
	for i, movie := range state.Movies {
		assert.Equal(t, i, movie.OrderIndex)
	}
}

func TestReorderMoviesRejectsBadSequences(t *testing.T) {
	env := newTestEnv(t)
	ids := addTestMovies(t, env.svc, "a.mp4", "b.mp4")

	assert.Error(t, env.svc.ReorderMovies([]string{ids[0]}))

	var unknownID *UnknownIDError
	assert.ErrorAs(t, env.svc.ReorderMovies([]string{ids[0], "missing"}), &unknownID)
	assert.ErrorAs(t, env.svc.ReorderMovies([]string{ids[0], ids[0]}), &unknownID)

	// Failed reorders leave the collection untouched.
	state := env.svc.GetState()
	assert.Equal(t, "a.mp4", state.Movies[0].FileName)
	assert.Equal(t, "b.mp4", state.Movies[1].FileName)
}

func TestReorderAffectsResultOrder(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.svc.SetTemplate("%FILE_NAME%"))
	ids := addTestMovies(t, env.svc, "a.mp4", "b.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	require.NoError(t, env.svc.ReorderMovies([]string{ids[1], ids[0]}))
	assert.Equal(t, "b.mp4\na.mp4\n", env.svc.GenerateResult())
}

func TestResetMovieStatuses(t *testing.T) {
	env := newTestEnv(t)
	env.uploaders[HostFastpic].err = errors.New("503 from host")
	addTestMovies(t, env.svc, "a.mp4")

	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)
	require.Equal(t, StateError, movieByIndex(t, env.svc, 0).ProcessingState)

	env.svc.ResetMovieStatuses()

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StatePending, movie.ProcessingState)
	assert.Empty(t, movie.ProcessingError)
	assert.Empty(t, movie.Errors)
	assert.Empty(t, movie.Artifacts)
}

func TestUpdateSettingsValidates(t *testing.T) {
	env := newTestEnv(t)

	settings := env.svc.GetSettings()
	settings.ScreenshotCount = 50
	assert.Error(t, env.svc.UpdateSettings(settings))

	settings = env.svc.GetSettings()
	settings.ScreenshotCount = 12
	settings.FastpicSID = "sid-value"
	require.NoError(t, env.svc.UpdateSettings(settings))

	updated := env.svc.GetSettings()
	assert.Equal(t, 12, updated.ScreenshotCount)
	assert.Equal(t, "sid-value", updated.FastpicSID)
}

func TestStateSnapshotsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	addTestMovies(t, env.svc, "a.mp4")

	state := env.svc.GetState()
	state.Movies[0].FileName = "mutated.mp4"
	state.Movies[0].Params["%X%"] = "y"

	fresh := env.svc.GetState()
	assert.Equal(t, "a.mp4", fresh.Movies[0].FileName)
	assert.Empty(t, fresh.Movies[0].Params)
}

func TestSaveMediaDirectoryReceivesCopies(t *testing.T) {
	env := newTestEnv(t)

	saveDir := t.TempDir()
	settings := env.svc.GetSettings()
	settings.SaveMediaDirectory = saveDir
	require.NoError(t, env.svc.UpdateSettings(settings))

	addTestMovies(t, env.svc, "a.mp4")
	require.NoError(t, env.svc.StartProcessing())
	waitIdle(t, env.svc)

	movie := movieByIndex(t, env.svc, 0)
	assert.Equal(t, StateCompleted, movie.ProcessingState)

	movieDir := filepath.Join(saveDir, "a")
	for _, name := range []string{"contact_sheet.jpg", "screenshot_01.jpg", "screenshot_02.jpg"} {
		_, err := os.Stat(filepath.Join(movieDir, name))
		assert.NoError(t, err, "expected saved copy %s", name)
	}
}
