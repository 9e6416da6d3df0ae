// Package config loads pipeline settings from an optional TOML file, a
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Publish backends.
const (
	BackendDrive = "drive"
	BackendS3    = "s3"
	BackendNone  = "none"
)

// Sheets locates the guest spreadsheet.
type Sheets struct {
	SpreadsheetID   string `toml:"spreadsheet_id"`
	SheetName       string `toml:"sheet_name"`
	CredentialsFile string `toml:"credentials_file"`
	// CredentialsJSON is never read from the file; the Lambda fills it from SSM.
	CredentialsJSON string `toml:"-"`
}

// Speech configures Gemini text-to-speech and blessing generation.
type Speech struct {
	APIKey     string `toml:"-"`
	Model      string `toml:"model"`
	Voice      string `toml:"voice"`
	Language   string `toml:"language"`
	TextModel  string `toml:"text_model"`
	TimeoutSec int    `toml:"timeout_seconds"`
}

// LipSync configures the Wav2Lip inference subprocess.
type LipSync struct {
	Python       string `toml:"python"`
	Script       string `toml:"script"`
	Checkpoint   string `toml:"checkpoint"`
	ResizeFactor int    `toml:"resize_factor"`
	TimeoutSec   int    `toml:"timeout_seconds"`
}

// Publish configures where finished videos go.
type Publish struct {
	Backend       string `toml:"backend"`
	DriveFolderID string `toml:"drive_folder_id"`
	Bucket        string `toml:"bucket"`
	Region        string `toml:"region"`
	KeyPrefix     string `toml:"key_prefix"`
}

// Workspace configures per-guest scratch directories.
type Workspace struct {
	Root          string `toml:"root"`
	KeepArtifacts bool   `toml:"keep_artifacts"`
}

// Ledger configures the optional DynamoDB run ledger.
type Ledger struct {
	Table string `toml:"table"`
}

// Batch holds batch-level policy.
type Batch struct {
	Force bool `toml:"force"`
	// RequireBlessing only processes guests the blessing writer has visited.
	RequireBlessing bool `toml:"require_blessing"`
}

// Config is the full pipeline configuration.
type Config struct {
	Sheets    Sheets    `toml:"sheets"`
	Speech    Speech    `toml:"speech"`
	LipSync   LipSync   `toml:"lipsync"`
	Publish   Publish   `toml:"publish"`
	Workspace Workspace `toml:"workspace"`
	Ledger    Ledger    `toml:"ledger"`
	Batch     Batch     `toml:"batch"`
}

// Load builds a Config. path may be empty, in which case AVATAR_CONFIG is
// consulted; a missing file is not an error. Variables from .env in the
// working directory are loaded first without overriding the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("AVATAR_CONFIG")
	}
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) decodeFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() error {
	c.Publish.Backend = strings.ToLower(strings.TrimSpace(c.Publish.Backend))
	c.Publish.KeyPrefix = strings.Trim(c.Publish.KeyPrefix, "/")

	root, err := expandPath(c.Workspace.Root)
	if err != nil {
		return fmt.Errorf("workspace root: %w", err)
	}
	c.Workspace.Root = root

	for _, p := range []*string{&c.LipSync.Script, &c.LipSync.Checkpoint, &c.Sheets.CredentialsFile} {
		expanded, err := expandPath(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// LipSyncTimeout returns the subprocess timeout; zero disables it.
func (c *Config) LipSyncTimeout() time.Duration {
	return time.Duration(c.LipSync.TimeoutSec) * time.Second
}

// SpeechTimeout returns the per-request timeout for Gemini calls.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSec) * time.Second
}

// PublishDestination returns the configured destination identifier for the
// selected backend, or "" when publishing is not configured.
func (c *Config) PublishDestination() string {
	switch c.Publish.Backend {
	case BackendDrive:
		return c.Publish.DriveFolderID
	case BackendS3:
		return c.Publish.Bucket
	default:
		return ""
	}
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	return filepath.Abs(p)
}
