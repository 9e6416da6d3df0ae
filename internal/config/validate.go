package config

import (
	"errors"
	"fmt"
)

// Validate checks value ranges and enumerations. Presence of credentials
// is checked by the commands that need them, so `guests` works without a
// Wav2Lip install and `normalize` works without a spreadsheet.
func (c *Config) Validate() error {
	var errs []error

	switch c.Publish.Backend {
	case BackendDrive, BackendS3, BackendNone, "":
	default:
		errs = append(errs, fmt.Errorf("publish.backend must be %q, %q or %q, got %q",
			BackendDrive, BackendS3, BackendNone, c.Publish.Backend))
	}
	if c.LipSync.ResizeFactor < 1 {
		errs = append(errs, fmt.Errorf("lipsync.resize_factor must be >= 1, got %d", c.LipSync.ResizeFactor))
	}
	if c.LipSync.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("lipsync.timeout_seconds must be >= 0, got %d", c.LipSync.TimeoutSec))
	}
	if c.Speech.TimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("speech.timeout_seconds must be >= 0, got %d", c.Speech.TimeoutSec))
	}
	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root must be set"))
	}

	return errors.Join(errs...)
}

// RequireSheets reports whether the spreadsheet settings are complete.
func (c *Config) RequireSheets() error {
	if c.Sheets.SpreadsheetID == "" {
		return errors.New("GOOGLE_SHEET_ID (sheets.spreadsheet_id) is required")
	}
	if c.Sheets.CredentialsFile == "" && c.Sheets.CredentialsJSON == "" {
		return errors.New("GOOGLE_SHEETS_KEY_FILE (sheets.credentials_file) is required")
	}
	return nil
}

// RequireSpeech reports whether a Gemini API key is available.
func (c *Config) RequireSpeech() error {
	if c.Speech.APIKey == "" {
		return errors.New("GEMINI_API_KEY is required")
	}
	return nil
}
