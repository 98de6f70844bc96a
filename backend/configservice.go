package backend

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultPresetID is the id of the built-in preset the current pointer
// reverts to when the active preset is deleted.
const DefaultPresetID = "default-pl"

// SpoilerConfig is the on-disk configuration record: settings plus the
// template presets and the current-preset pointer.
type SpoilerConfig struct {
	ScreenshotCount          int              `json:"screenshotCount" koanf:"screenshot_count"`
	FastpicSID               string           `json:"fastpicSid" koanf:"fastpic_sid"`
	ScreenshotQuality        int              `json:"screenshotQuality" koanf:"screenshot_quality"`
	MaxConcurrentScreenshots int              `json:"maxConcurrentScreenshots" koanf:"max_concurrent_screenshots"`
	MaxConcurrentUploads     int              `json:"maxConcurrentUploads" koanf:"max_concurrent_uploads"`
	CurrentPresetID          string           `json:"currentPresetId" koanf:"current_preset_id"`
	TemplatePresets          []TemplatePreset `json:"templatePresets" koanf:"template_presets"`
	MtnArgs                  string           `json:"mtnArgs" koanf:"mtn_args"`
	ImageMiniatureSize       int              `json:"imageMiniatureSize" koanf:"image_miniature_size"`
	// Hamster settings
	HamsterEmail    string `json:"hamsterEmail" koanf:"hamster_email"`
	HamsterPassword string `json:"hamsterPassword" koanf:"hamster_password"`
	// Save media settings
	SaveMediaDirectory string `json:"saveMediaDirectory" koanf:"save_media_directory"` // Empty = disabled
}

// Settings projects the config record onto the runtime settings struct.
func (c SpoilerConfig) Settings() AppSettings {
	return AppSettings{
		ScreenshotCount:          c.ScreenshotCount,
		FastpicSID:               c.FastpicSID,
		ScreenshotQuality:        c.ScreenshotQuality,
		MaxConcurrentScreenshots: c.MaxConcurrentScreenshots,
		MaxConcurrentUploads:     c.MaxConcurrentUploads,
		MtnArgs:                  c.MtnArgs,
		ImageMiniatureSize:       c.ImageMiniatureSize,
		HamsterEmail:             c.HamsterEmail,
		HamsterPassword:          c.HamsterPassword,
		SaveMediaDirectory:       c.SaveMediaDirectory,
	}
}

func GetDefaultTemplate() string {
	return `[spoiler="%FILE_NAME% | %FILE_SIZE%"]
File: %FILE_NAME%
Size: %FILE_SIZE%
Duration: %DURATION%
Video: %VIDEO_CODEC% / %VIDEO_FPS% FPS / %WIDTH%x%HEIGHT% / %VIDEO_BIT_RATE%
Audio: %AUDIO_CODEC% / %AUDIO_SAMPLE_RATE% / %AUDIO_CHANNELS% / %AUDIO_BIT_RATE%

%CONTACT_SHEET_FP%

%SCREENSHOTS_FP%
[/spoiler]`
}

func getDefaultPresets() []TemplatePreset {
	return []TemplatePreset{
		{
			ID:       DefaultPresetID,
			Name:     "PL Default",
			Template: GetDefaultTemplate(),
		},
		{
			ID:   "default-emp",
			Name: "EMP Default",
			Template: `[spoiler=%FILE_NAME% | %FILE_SIZE%]
File: %FILE_NAME%
Size: %FILE_SIZE%
Duration: %DURATION%
Video: %VIDEO_CODEC% / %VIDEO_FPS% FPS / %WIDTH%x%HEIGHT% / %VIDEO_BIT_RATE%
Audio: %AUDIO_CODEC% / %AUDIO_SAMPLE_RATE% / %AUDIO_CHANNELS% / %AUDIO_BIT_RATE%

%CONTACT_SHEET_HAM%

%SCREENSHOTS_HAM%
[/spoiler]`,
		},
	}
}

func defaultSpoilerConfig() SpoilerConfig {
	return SpoilerConfig{
		ScreenshotCount:          6,
		FastpicSID:               "",
		ScreenshotQuality:        2,
		MaxConcurrentScreenshots: 3,
		MaxConcurrentUploads:     2,
		CurrentPresetID:          DefaultPresetID,
		TemplatePresets:          getDefaultPresets(),
		MtnArgs:                  "-b 2 -w 1200 -c 4 -r 4 -g 0 -k 1C1C1C -L 4:2 -F F0FFFF:10",
		ImageMiniatureSize:       350,
		HamsterEmail:             "",
		HamsterPassword:          "",
		SaveMediaDirectory:       "",
	}
}

// ConfigService owns the yaml-backed settings and preset store. All reads
// return a deep copy; updates replace the whole record atomically and write
// it through to disk.
type ConfigService struct {
	mu     sync.Mutex
	path   string
	config SpoilerConfig
	loaded bool
}

func NewConfigService() *ConfigService {
	return &ConfigService{path: resolveConfigPath()}
}

// NewConfigServiceAt uses an explicit config file path.
func NewConfigServiceAt(path string) *ConfigService {
	return &ConfigService{path: path}
}

// resolveConfigPath prefers a portable config next to the working
// directory, falling back to the user config dir.
func resolveConfigPath() string {
	if wd, err := os.Getwd(); err == nil {
		portable := filepath.Join(wd, "spoilgen.config")
		if _, err := os.Stat(portable); err == nil {
			return portable
		}
	}

	userConfigDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(userConfigDir, "spoilgen", "spoilgen.config")
}

func (g *ConfigService) GetConfig() SpoilerConfig {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getConfigLocked()
}

func (g *ConfigService) getConfigLocked() SpoilerConfig {
	if !g.loaded {
		g.config = g.loadFromDisk()
		g.loaded = true
	}
	c := g.config
	c.TemplatePresets = append([]TemplatePreset(nil), c.TemplatePresets...)
	return c
}

func (g *ConfigService) loadFromDisk() SpoilerConfig {
	if _, err := os.Stat(g.path); os.IsNotExist(err) {
		log.Println("Created a new spoiler settings config")
		cfg := defaultSpoilerConfig()
		if err := g.writeToDisk(cfg); err != nil {
			log.Printf("Failed to write initial config: %v", err)
		}
		return cfg
	}

	raw, _ := os.ReadFile(g.path)
	if len(raw) == 0 {
		log.Println("config file is empty")
		return defaultSpoilerConfig()
	}

	var c SpoilerConfig
	k := koanf.New(".")
	if err := k.Load(file.Provider(g.path), yaml.Parser()); err != nil {
		log.Printf("error parsing spoiler app config: %v", err)
		return defaultSpoilerConfig()
	}
	if err := k.Unmarshal("", &c); err != nil {
		log.Printf("error unmarshaling spoiler app config: %v", err)
		return defaultSpoilerConfig()
	}

	return normalizeConfig(c)
}

// normalizeConfig clamps invalid values back to defaults and guarantees the
// preset invariants (at least one preset, valid current pointer).
func normalizeConfig(c SpoilerConfig) SpoilerConfig {
	defaults := defaultSpoilerConfig()

	if c.ScreenshotCount < 0 || c.ScreenshotCount > 20 {
		c.ScreenshotCount = defaults.ScreenshotCount
	}
	if c.MaxConcurrentScreenshots < 1 {
		c.MaxConcurrentScreenshots = defaults.MaxConcurrentScreenshots
	}
	if c.MaxConcurrentUploads < 1 {
		c.MaxConcurrentUploads = defaults.MaxConcurrentUploads
	}
	if c.ScreenshotQuality < 1 || c.ScreenshotQuality > 31 {
		c.ScreenshotQuality = defaults.ScreenshotQuality
	}
	if c.ImageMiniatureSize < 100 || c.ImageMiniatureSize > 800 {
		c.ImageMiniatureSize = defaults.ImageMiniatureSize
	}
	if c.MtnArgs == "" {
		c.MtnArgs = defaults.MtnArgs
	}

	if len(c.TemplatePresets) == 0 {
		c.TemplatePresets = getDefaultPresets()
	}
	if c.CurrentPresetID == "" {
		c.CurrentPresetID = c.TemplatePresets[0].ID
	}

	found := false
	for _, preset := range c.TemplatePresets {
		if preset.ID == c.CurrentPresetID {
			found = true
			break
		}
	}
	if !found {
		c.CurrentPresetID = c.TemplatePresets[0].ID
	}

	return c
}

func (g *ConfigService) UpdateConfig(config SpoilerConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.updateConfigLocked(config)
}

func (g *ConfigService) updateConfigLocked(config SpoilerConfig) error {
	if config.ScreenshotCount < 0 || config.ScreenshotCount > 20 {
		return fmt.Errorf("screenshot count must be between 0 and 20")
	}
	if config.MaxConcurrentScreenshots < 1 {
		return fmt.Errorf("max concurrent screenshots must be at least 1")
	}
	if config.MaxConcurrentUploads < 1 {
		return fmt.Errorf("max concurrent uploads must be at least 1")
	}
	if config.ScreenshotQuality < 1 || config.ScreenshotQuality > 31 {
		return fmt.Errorf("screenshot quality must be between 1 and 31")
	}
	if config.ImageMiniatureSize < 100 || config.ImageMiniatureSize > 800 {
		return fmt.Errorf("image miniature size must be between 100 and 800")
	}

	if len(config.TemplatePresets) == 0 {
		config.TemplatePresets = getDefaultPresets()
		config.CurrentPresetID = DefaultPresetID
	}

	found := false
	for _, preset := range config.TemplatePresets {
		if preset.ID == config.CurrentPresetID {
			found = true
			break
		}
	}
	if !found {
		config.CurrentPresetID = config.TemplatePresets[0].ID
	}

	if err := g.writeToDisk(config); err != nil {
		return err
	}
	g.config = config
	g.loaded = true
	return nil
}

func (g *ConfigService) writeToDisk(config SpoilerConfig) error {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(config, "koanf"), nil); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}

	b, err := k.Marshal(yaml.Parser())
	if err != nil {
		return err
	}

	return os.WriteFile(g.path, b, 0644)
}

// SaveTemplatePreset stores a preset, generating an id when absent.
func (g *ConfigService) SaveTemplatePreset(preset TemplatePreset) (TemplatePreset, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	config := g.getConfigLocked()

	found := false
	for i, p := range config.TemplatePresets {
		if p.ID == preset.ID {
			config.TemplatePresets[i] = preset
			found = true
			break
		}
	}
	if !found {
		if preset.ID == "" {
			preset.ID = uuid.New().String()
		}
		config.TemplatePresets = append(config.TemplatePresets, preset)
	}

	if err := g.updateConfigLocked(config); err != nil {
		return TemplatePreset{}, err
	}
	return preset, nil
}

// DeleteTemplatePreset removes a preset. When the current preset is
// deleted the pointer reverts to the built-in default preset if it still
// exists, else to the first remaining preset. The last preset cannot be
// deleted.
func (g *ConfigService) DeleteTemplatePreset(presetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	config := g.getConfigLocked()

	if len(config.TemplatePresets) <= 1 {
		return fmt.Errorf("cannot delete the last template preset")
	}

	for i, preset := range config.TemplatePresets {
		if preset.ID == presetID {
			config.TemplatePresets = append(config.TemplatePresets[:i], config.TemplatePresets[i+1:]...)

			if config.CurrentPresetID == presetID {
				config.CurrentPresetID = config.TemplatePresets[0].ID
				for _, p := range config.TemplatePresets {
					if p.ID == DefaultPresetID {
						config.CurrentPresetID = DefaultPresetID
						break
					}
				}
			}

			return g.updateConfigLocked(config)
		}
	}

	return &UnknownPresetError{ID: presetID}
}

func (g *ConfigService) SetCurrentPreset(presetID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	config := g.getConfigLocked()

	for _, preset := range config.TemplatePresets {
		if preset.ID == presetID {
			config.CurrentPresetID = presetID
			return g.updateConfigLocked(config)
		}
	}

	return &UnknownPresetError{ID: presetID}
}

// SetCurrentTemplate rewrites the current preset's stored template in
// place. The compiled-in default text stays reachable through
// GetDefaultTemplate.
func (g *ConfigService) SetCurrentTemplate(template string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	config := g.getConfigLocked()

	for i, preset := range config.TemplatePresets {
		if preset.ID == config.CurrentPresetID {
			config.TemplatePresets[i].Template = template
			return g.updateConfigLocked(config)
		}
	}

	return &UnknownPresetError{ID: config.CurrentPresetID}
}

func (g *ConfigService) GetCurrentTemplate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	config := g.getConfigLocked()

	for _, preset := range config.TemplatePresets {
		if preset.ID == config.CurrentPresetID {
			return preset.Template
		}
	}

	if len(config.TemplatePresets) > 0 {
		return config.TemplatePresets[0].Template
	}

	return GetDefaultTemplate()
}
