package config

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piframe/piframe/pkg/errors"
)

func mockHomedir() {
	homedirExpand = func(path string) (string, error) {
		return path, nil
	}
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	cfg, err := Parse("/etc/piframe.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Slideshow.DisplayDuration, cfg.Slideshow.DisplayDuration)
	assert.True(t, cfg.Slideshow.RandomOrder)
}

func TestParseOverrides(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	contents := `
version: v1
slideshow:
  images_dir: /data/images
  display_duration: 30
  random_order: false
sync:
  sync_method: bidirectional
  remote_name: drive
monitor:
  check_interval: 3
`
	require.NoError(t, afero.WriteFile(
		fs, "/etc/piframe.yaml", []byte(contents), 0644))

	cfg, err := Parse("/etc/piframe.yaml")
	require.NoError(t, err)
	assert.Equal(t, "/data/images", cfg.Slideshow.ImagesDir)
	assert.Equal(t, 30, cfg.Slideshow.DisplayDuration)
	assert.False(t, cfg.Slideshow.RandomOrder)
	assert.Equal(t, MethodBidirectional, cfg.Sync.Method)
	assert.Equal(t, "drive", cfg.Sync.RemoteName)
	assert.Equal(t, 3, cfg.Monitor.CheckInterval)

	// Unset fields keep their defaults.
	assert.Equal(t, []string{"jpg", "jpeg", "png", "gif"}, cfg.Slideshow.SupportedFormats)
	assert.Equal(t, "contain", cfg.Display.FitMode)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	contents := `
version: v1
slideshow:
  imagez_dir: /data/images
`
	require.NoError(t, afero.WriteFile(
		fs, "/etc/piframe.yaml", []byte(contents), 0644))

	_, err := Parse("/etc/piframe.yaml")
	require.Error(t, err)
	_, ok := errors.RootCause(err).(errors.FriendlyError)
	assert.True(t, ok)
}

func TestParseRejectsWrongVersion(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	require.NoError(t, afero.WriteFile(
		fs, "/etc/piframe.yaml", []byte("version: v9\n"), 0644))

	_, err := Parse("/etc/piframe.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		expError bool
	}{
		{
			name:   "Defaults",
			mutate: func(*Config) {},
		},
		{
			name:     "BadFitMode",
			mutate:   func(cfg *Config) { cfg.Display.FitMode = "stretch" },
			expError: true,
		},
		{
			name:     "BadMethod",
			mutate:   func(cfg *Config) { cfg.Sync.Method = "magic" },
			expError: true,
		},
		{
			name:     "ZeroDuration",
			mutate:   func(cfg *Config) { cfg.Slideshow.DisplayDuration = 0 },
			expError: true,
		},
		{
			name:     "BadBandwidth",
			mutate:   func(cfg *Config) { cfg.Sync.BandwidthLimit = "fast" },
			expError: true,
		},
		{
			name:     "NoFormats",
			mutate:   func(cfg *Config) { cfg.Slideshow.SupportedFormats = nil },
			expError: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.validate()
			if test.expError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseBandwidth(t *testing.T) {
	tests := []struct {
		limit    string
		exp      int64
		expError bool
	}{
		{limit: "", exp: 0},
		{limit: "512", exp: 512},
		{limit: "500K", exp: 500 * 1024},
		{limit: "2M", exp: 2 * 1024 * 1024},
		{limit: "1g", exp: 1024 * 1024 * 1024},
		{limit: "fast", expError: true},
		{limit: "-1M", expError: true},
	}

	for _, test := range tests {
		n, err := ParseBandwidth(test.limit)
		if test.expError {
			assert.Error(t, err, test.limit)
			continue
		}
		assert.NoError(t, err, test.limit)
		assert.Equal(t, test.exp, n, test.limit)
	}
}

func TestFormats(t *testing.T) {
	cfg := SlideshowConfig{SupportedFormats: []string{"JPG", ".png", " gif"}}
	assert.Equal(t, map[string]bool{"jpg": true, "png": true, "gif": true},
		cfg.Formats())
}

func TestWriteRoundTrip(t *testing.T) {
	fs = afero.NewMemMapFs()
	mockHomedir()

	cfg := Default()
	cfg.Sync.PublicFolderURL = "https://drive.google.com/drive/folders/abc123"
	require.NoError(t, Write(cfg, "/home/pi/.piframe.yaml"))

	parsed, err := Parse("/home/pi/.piframe.yaml")
	require.NoError(t, err)
	assert.Equal(t, cfg.Sync.PublicFolderURL, parsed.Sync.PublicFolderURL)
	assert.Equal(t, cfg.Slideshow.SupportedFormats, parsed.Slideshow.SupportedFormats)
}
