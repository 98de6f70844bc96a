package backend

// TemplatePreset represents a saved template configuration
type TemplatePreset struct {
	ID       string `json:"id" koanf:"id"`
	Name     string `json:"name" koanf:"name"`
	Template string `json:"template" koanf:"template"`
}

// Host identifies an image-hosting backend.
type Host string

const (
	HostFastpic Host = "fastpic"
	HostImgbox  Host = "imgbox"
	HostHamster Host = "hamster"
)

// AllHosts lists every supported host in a stable order.
var AllHosts = []Host{HostFastpic, HostImgbox, HostHamster}

// Artifact variants. Together with a Host they form the key a movie's
// uploaded media is filed under, e.g. "fastpic-screens-big".
const (
	VariantContactSheet    = "contactsheet"
	VariantContactSheetBig = "contactsheet-big"
	VariantScreens         = "screens"
	VariantScreensBig      = "screens-big"
	VariantAlbum           = "album"
)

// ArtifactKey builds the artifact map key for a host/variant pair.
func ArtifactKey(host Host, variant string) string {
	return string(host) + "-" + variant
}

// Movie represents a media file with its metadata and processing results.
type Movie struct {
	ID            string `json:"id"`
	FileName      string `json:"fileName"`
	FilePath      string `json:"filePath"`
	FileSize      string `json:"fileSize"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	OrderIndex    int    `json:"orderIndex"`

	// Populated by the media probe stage.
	DurationFormatted string  `json:"duration"`
	Duration          float64 `json:"durationSeconds"` // seconds, for screenshot timestamps
	Width             string  `json:"width"`
	Height            string  `json:"height"`
	BitRate           string  `json:"bitRate"`
	VideoBitRate      string  `json:"videoBitRate"`
	AudioBitRate      string  `json:"audioBitRate"`
	VideoCodec        string  `json:"videoCodec"`
	AudioCodec        string  `json:"audioCodec"`

	// Params holds extra probed values keyed by their template token,
	// e.g. "%VIDEO_FPS%" or "%Audio@sample_rate%".
	Params map[string]string `json:"params"`

	// Artifacts maps host-variant keys (see ArtifactKey) to uploaded
	// BBCode snippets or links, in upload order. Entries exist only once
	// the corresponding host upload has completed.
	Artifacts map[string][]string `json:"artifacts"`

	ProcessingState ProcessingState `json:"processingState"`
	ProcessingError string          `json:"processingError,omitempty"` // fatal error, set on transition to error
	Errors          []string        `json:"errors,omitempty"`          // non-fatal warnings accumulated during processing
}

// Clone returns a deep copy so published snapshots never share maps or
// slices with the live collection.
func (m Movie) Clone() Movie {
	c := m
	if m.Params != nil {
		c.Params = make(map[string]string, len(m.Params))
		for k, v := range m.Params {
			c.Params[k] = v
		}
	}
	if m.Artifacts != nil {
		c.Artifacts = make(map[string][]string, len(m.Artifacts))
		for k, v := range m.Artifacts {
			c.Artifacts[k] = append([]string(nil), v...)
		}
	}
	c.Errors = append([]string(nil), m.Errors...)
	return c
}

func (m *Movie) artifact(host Host, variant string) []string {
	if m.Artifacts == nil {
		return nil
	}
	return m.Artifacts[ArtifactKey(host, variant)]
}

func (m *Movie) addArtifact(host Host, variant, value string) {
	if m.Artifacts == nil {
		m.Artifacts = make(map[string][]string)
	}
	key := ArtifactKey(host, variant)
	m.Artifacts[key] = append(m.Artifacts[key], value)
}

// ProcessingState is one pipeline state of a movie.
type ProcessingState string

const (
	StatePending                  ProcessingState = "pending"
	StateAnalyzingMedia           ProcessingState = "analyzing_media"
	StateWaitingForScreenshotSlot ProcessingState = "waiting_for_screenshot_slot"
	StateGeneratingScreenshots    ProcessingState = "generating_screenshots"
	StateWaitingForUploadSlot     ProcessingState = "waiting_for_upload_slot"
	StateUploadingScreenshots     ProcessingState = "uploading_screenshots"
	StateCompleted                ProcessingState = "completed"
	StateError                    ProcessingState = "error"
)

// Terminal reports whether the state ends a processing run.
func (s ProcessingState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// AppState is a snapshot of the orchestrator state.
type AppState struct {
	Processing bool    `json:"processing"`
	Movies     []Movie `json:"movies"`
}

// MediaInfo represents extracted media information
type MediaInfo struct {
	General map[string]string `json:"general"`
	Video   map[string]string `json:"video"`
	Audio   map[string]string `json:"audio"`
}

// AppSettings represents application settings
type AppSettings struct {
	ScreenshotCount          int    `json:"screenshotCount"`
	FastpicSID               string `json:"fastpicSid"`
	ScreenshotQuality        int    `json:"screenshotQuality"`
	MaxConcurrentScreenshots int    `json:"maxConcurrentScreenshots"` // Max parallel screenshot generation
	MaxConcurrentUploads     int    `json:"maxConcurrentUploads"`     // Max parallel uploads
	MtnArgs                  string `json:"mtnArgs"`                  // MTN command line arguments
	ImageMiniatureSize       int    `json:"imageMiniatureSize"`
	// Hamster settings
	HamsterEmail    string `json:"hamsterEmail"`    // Hamster.is email
	HamsterPassword string `json:"hamsterPassword"` // Hamster.is password
	// Save media settings
	SaveMediaDirectory string `json:"saveMediaDirectory"` // Directory to save generated media (empty = disabled)
}
