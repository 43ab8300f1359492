package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "~/.config/scorepipe/config.json"
	defaultParallel   = 2
)

// Config holds user-editable settings for the conversion service.
type Config struct {
	Processing Processing `json:"processing"`
	Logging    Logging    `json:"logging"`
	Storage    Storage    `json:"storage"`
	Preprocess Preprocess `json:"preprocess"`
	Tools      Tools      `json:"tools"`
	Server     Server     `json:"server"`
}

// Processing captures execution preferences for the worker pool.
type Processing struct {
	ParallelJobs int    `json:"parallel_jobs"`
	TempDir      string `json:"temp_dir"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Storage configures where uploads, artifacts and the job database live.
type Storage struct {
	Root         string `json:"root"`
	DatabasePath string `json:"database_path"`
	MaxUploadMB  int    `json:"max_upload_mb"`
}

// Preprocess configures the image preprocessing pipeline defaults.
type Preprocess struct {
	TargetDPI             int  `json:"target_dpi"`
	Deskew                bool `json:"deskew"`
	PerspectiveCorrection bool `json:"perspective_correction"`
	Denoise               bool `json:"denoise"`
	Binarize              bool `json:"binarize"`
}

// Tools locates the external recognition and rendering engines.
type Tools struct {
	AudiverisPath    string `json:"audiveris_path"`
	MuseScorePath    string `json:"musescore_path"`
	OMRTimeoutSec    int    `json:"omr_timeout_sec"`
	RenderTimeoutSec int    `json:"render_timeout_sec"`
}

// Server configures the HTTP API.
type Server struct {
	Addr       string   `json:"addr"`
	WatchPaths []string `json:"watch_paths"`
}

// Uploads returns the directory for uploaded score images.
func (s Storage) Uploads() string { return filepath.Join(s.Root, "uploads") }

// MusicXML returns the directory for recognized notation documents.
func (s Storage) MusicXML() string { return filepath.Join(s.Root, "musicxml") }

// PDF returns the directory for rendered PDFs.
func (s Storage) PDF() string { return filepath.Join(s.Root, "pdf") }

// EnsureDirs creates the storage layout if missing.
func (s Storage) EnsureDirs() error {
	for _, dir := range []string{s.Uploads(), s.MusicXML(), s.PDF()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return nil
}

// Load reads configuration from disk, falling back to sensible defaults.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("SCOREPIPE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Processing: Processing{
			ParallelJobs: defaultParallel,
			TempDir:      filepath.Join(os.TempDir(), "scorepipe"),
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: false,
			LogDir:     "./logs",
		},
		Storage: Storage{
			Root:         "./storage",
			DatabasePath: filepath.Join("storage", "scorepipe.db"),
			MaxUploadMB:  50,
		},
		Preprocess: Preprocess{
			TargetDPI:             300,
			Deskew:                true,
			PerspectiveCorrection: true,
			Denoise:               true,
			Binarize:              true,
		},
		Tools: Tools{
			AudiverisPath:    "/opt/audiveris/bin/Audiveris",
			MuseScorePath:    "/usr/local/bin/musescore",
			OMRTimeoutSec:    300,
			RenderTimeoutSec: 120,
		},
		Server: Server{
			Addr: ":8080",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
