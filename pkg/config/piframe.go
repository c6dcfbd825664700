package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/piframe/piframe/pkg/errors"
)

const (
	// DefaultPath is the default path to the piframe config file.
	DefaultPath = "~/.piframe.yaml"

	// SupportedConfigVersion is the config file version understood by the
	// current piframe binary.
	SupportedConfigVersion = "v1"

	// ManifestName is the name of the manifest file kept inside the images
	// directory. It records the last known good sync state.
	ManifestName = ".piframe-manifest.json"

	// LockName is the name of the sync lock marker kept inside the images
	// directory.
	LockName = ".piframe-sync.lock"

	// MethodSimple syncs one way from a public shared folder link.
	MethodSimple = "simple"

	// MethodBidirectional syncs both directions through an rclone remote.
	MethodBidirectional = "bidirectional"
)

// Config is the full piframe configuration. It is parsed once at process
// startup and passed explicitly to each component. No component re-reads
// the file mid-run.
type Config struct {
	Version   string          `json:"version,omitempty"`
	Slideshow SlideshowConfig `json:"slideshow,omitempty"`
	Sync      SyncConfig      `json:"sync,omitempty"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`
	Display   DisplayConfig   `json:"display,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// SlideshowConfig configures the image set and playback order.
type SlideshowConfig struct {
	// ImagesDir is the directory that holds the synced images, the
	// manifest, and the sync lock.
	ImagesDir string `json:"images_dir,omitempty"`

	// DisplayDuration is the number of seconds each image stays on screen.
	DisplayDuration int `json:"display_duration,omitempty"`

	// SupportedFormats is the extension allow-list for playable images.
	SupportedFormats []string `json:"supported_formats,omitempty"`

	// RandomOrder shuffles the playlist with a fresh seed on every reload.
	RandomOrder bool `json:"random_order,omitempty"`

	// AutoRotate applies the EXIF orientation before display.
	AutoRotate bool `json:"auto_rotate,omitempty"`

	// Transition names the effect used between images. Only "none" and
	// "fade" are currently recognized.
	Transition string `json:"transition,omitempty"`
}

// SyncConfig configures the remote source adapter.
type SyncConfig struct {
	// Method selects the sync strategy: "simple" or "bidirectional".
	Method string `json:"sync_method,omitempty"`

	// PublicFolderURL is the shared folder link used by the simple method.
	PublicFolderURL string `json:"public_folder_url,omitempty"`

	// RemoteName and RemotePath identify the rclone remote used by the
	// bidirectional method.
	RemoteName string `json:"remote_name,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`

	// Interval is the number of minutes between sync cycles.
	Interval int `json:"sync_interval,omitempty"`

	// BandwidthLimit caps download speed, e.g. "500K" or "2M". Empty means
	// unlimited.
	BandwidthLimit string `json:"bandwidth_limit,omitempty"`

	// Timeout is the number of seconds any single remote operation may
	// take before the cycle aborts.
	Timeout int `json:"sync_timeout,omitempty"`

	// ExcludePatterns are glob patterns for remote items to ignore.
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
}

// MonitorConfig configures the change monitor daemon.
type MonitorConfig struct {
	// CheckInterval is the debounce quiescence window in seconds. A burst
	// of filesystem events collapses into one reload signal once no event
	// has arrived for this long.
	CheckInterval int `json:"check_interval,omitempty"`

	// Recursive watches subdirectories of the images directory as well.
	Recursive bool `json:"recursive,omitempty"`

	// RestartDelay is the minimum number of seconds between two emitted
	// reload signals.
	RestartDelay int `json:"restart_delay,omitempty"`

	// MinFileSize ignores files smaller than this many bytes. Guards
	// against half-written droppings from other tools.
	MinFileSize int64 `json:"min_file_size,omitempty"`

	// ReloadCommand is the command run to signal the display engine to
	// reload. Defaults to restarting the piframe-show systemd unit.
	ReloadCommand []string `json:"reload_command,omitempty"`
}

// DisplayConfig configures how images are put on screen.
type DisplayConfig struct {
	Fullscreen bool `json:"fullscreen,omitempty"`

	// BackgroundColor is the letterbox fill color, e.g. "#000000".
	BackgroundColor string `json:"background_color,omitempty"`

	// FitMode is one of "contain", "cover", or "fill".
	FitMode string `json:"fit_mode,omitempty"`

	// Framebuffer is the framebuffer device rendered to when no viewer
	// command is configured.
	Framebuffer string `json:"framebuffer,omitempty"`

	// ViewerCommand, if set, is an external image viewer invoked with the
	// prepared frame path instead of rendering to the framebuffer.
	ViewerCommand []string `json:"viewer_command,omitempty"`
}

// LoggingConfig configures the per-daemon log streams.
type LoggingConfig struct {
	// Dir is the directory for per-daemon log files. Empty logs to stderr
	// only.
	Dir string `json:"log_dir,omitempty"`

	// Level is the logrus level name, e.g. "info" or "debug".
	Level string `json:"log_level,omitempty"`

	// MaxSize is the size in megabytes at which a log file is rotated
	// aside before a daemon starts writing.
	MaxSize int `json:"max_log_size,omitempty"`
}

// Default returns the configuration used when a field isn't set in the
// config file.
func Default() Config {
	return Config{
		Version: SupportedConfigVersion,
		Slideshow: SlideshowConfig{
			ImagesDir:        "~/piframe/images",
			DisplayDuration:  10,
			SupportedFormats: []string{"jpg", "jpeg", "png", "gif"},
			RandomOrder:      true,
			AutoRotate:       true,
			Transition:       "fade",
		},
		Sync: SyncConfig{
			Method:          MethodSimple,
			RemoteName:      "gdrive",
			RemotePath:      "slideshow",
			Interval:        10,
			Timeout:         300,
			ExcludePatterns: []string{"*.tmp", "*.DS_Store", "Thumbs.db"},
		},
		Monitor: MonitorConfig{
			CheckInterval: 10,
			Recursive:     true,
			RestartDelay:  5,
			MinFileSize:   1024,
		},
		Display: DisplayConfig{
			Fullscreen:      true,
			BackgroundColor: "#000000",
			FitMode:         "contain",
			Framebuffer:     "/dev/fb0",
		},
		Logging: LoggingConfig{
			Level:   "info",
			MaxSize: 10,
		},
	}
}

// homedirExpand will be overridden in mock tests.
var homedirExpand = homedir.Expand

// Parse loads, validates, and normalizes the config file at the given path.
// A missing file yields the defaults so that a freshly installed frame works
// without any setup beyond the folder URL.
func Parse(path string) (Config, error) {
	expanded, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Default()
	if err := parseConfig(expanded, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); !ok {
			return Config{}, errors.WithContext(err, "parse")
		}
	}

	config.Slideshow.ImagesDir, err = homedirExpand(config.Slideshow.ImagesDir)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand images dir")
	}

	if config.Logging.Dir != "" {
		config.Logging.Dir, err = homedirExpand(config.Logging.Dir)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand log dir")
		}
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Exists reports whether a config file is present at the path.
func Exists(path string) (bool, error) {
	expanded, err := homedirExpand(path)
	if err != nil {
		return false, errors.WithContext(err, "expand config path")
	}
	return afero.Exists(fs, expanded)
}

// Write writes the config to the given path, creating parent directories as
// needed. Used by `piframe config` to seed a default config file.
func Write(cfg Config, path string) error {
	expanded, err := homedirExpand(path)
	if err != nil {
		return errors.WithContext(err, "expand config path")
	}

	cfg.Version = SupportedConfigVersion
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return errors.WithContext(err, "create config dir")
	}
	if err := afero.WriteFile(fs, expanded, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func (cfg Config) validate() error {
	if cfg.Slideshow.ImagesDir == "" {
		return errors.MissingFieldError{Field: "images_dir"}
	}
	if cfg.Slideshow.DisplayDuration <= 0 {
		return errors.NewFriendlyError(
			"display_duration must be a positive number of seconds, got %d.",
			cfg.Slideshow.DisplayDuration)
	}
	if len(cfg.Slideshow.SupportedFormats) == 0 {
		return errors.MissingFieldError{Field: "supported_formats"}
	}

	switch cfg.Sync.Method {
	case MethodSimple, MethodBidirectional:
	default:
		return errors.NewFriendlyError(
			"Unknown sync_method %q. Expected %q or %q.",
			cfg.Sync.Method, MethodSimple, MethodBidirectional)
	}
	if cfg.Sync.Interval <= 0 {
		return errors.NewFriendlyError(
			"sync_interval must be a positive number of minutes, got %d.",
			cfg.Sync.Interval)
	}
	if _, err := ParseBandwidth(cfg.Sync.BandwidthLimit); err != nil {
		return err
	}

	if cfg.Monitor.CheckInterval <= 0 {
		return errors.NewFriendlyError(
			"check_interval must be a positive number of seconds, got %d.",
			cfg.Monitor.CheckInterval)
	}

	switch cfg.Display.FitMode {
	case "contain", "cover", "fill":
	default:
		return errors.NewFriendlyError(
			"Unknown fit_mode %q. Expected \"contain\", \"cover\", or \"fill\".",
			cfg.Display.FitMode)
	}
	return nil
}

// ManifestPath returns the path of the store manifest file.
func (cfg Config) ManifestPath() string {
	return filepath.Join(cfg.Slideshow.ImagesDir, ManifestName)
}

// LockPath returns the path of the sync lock marker.
func (cfg Config) LockPath() string {
	return filepath.Join(cfg.Slideshow.ImagesDir, LockName)
}

// Formats returns the extension allow-list, lowercased and without leading
// dots.
func (cfg SlideshowConfig) Formats() map[string]bool {
	formats := map[string]bool{}
	for _, format := range cfg.SupportedFormats {
		formats[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))] = true
	}
	return formats
}

// Duration returns the per-image display duration.
func (cfg SlideshowConfig) Duration() time.Duration {
	return time.Duration(cfg.DisplayDuration) * time.Second
}

// IntervalDuration returns the time between sync cycles.
func (cfg SyncConfig) IntervalDuration() time.Duration {
	return time.Duration(cfg.Interval) * time.Minute
}

// TimeoutDuration returns the per-operation remote timeout.
func (cfg SyncConfig) TimeoutDuration() time.Duration {
	return time.Duration(cfg.Timeout) * time.Second
}

// Window returns the debounce quiescence window.
func (cfg MonitorConfig) Window() time.Duration {
	return time.Duration(cfg.CheckInterval) * time.Second
}

// RestartDelayDuration returns the minimum spacing between reload signals.
func (cfg MonitorConfig) RestartDelayDuration() time.Duration {
	return time.Duration(cfg.RestartDelay) * time.Second
}

// ParseBandwidth converts a limit like "500K" or "2M" into bytes per second.
// An empty limit means unlimited and parses to zero.
func ParseBandwidth(limit string) (int64, error) {
	limit = strings.TrimSpace(limit)
	if limit == "" {
		return 0, nil
	}
	original := limit

	multiplier := int64(1)
	switch unit := limit[len(limit)-1]; unit {
	case 'k', 'K':
		multiplier = 1024
		limit = limit[:len(limit)-1]
	case 'm', 'M':
		multiplier = 1024 * 1024
		limit = limit[:len(limit)-1]
	case 'g', 'G':
		multiplier = 1024 * 1024 * 1024
		limit = limit[:len(limit)-1]
	}

	n, err := strconv.ParseInt(limit, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.NewFriendlyError(
			"bandwidth_limit must look like \"500K\" or \"2M\", got %q.", original)
	}
	return n * multiplier, nil
}

// String implements fmt.Stringer, redacting nothing since the config holds
// no secrets.
func (cfg Config) String() string {
	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Sprintf("<unprintable config: %s>", err)
	}
	return string(yamlBytes)
}
