package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// applyEnv overlays environment variables on top of file values. Variable
// names follow the original backend's .env where one existed.
func (c *Config) applyEnv() {
	envString("GOOGLE_SHEET_ID", &c.Sheets.SpreadsheetID)
	envString("GOOGLE_SHEET_NAME", &c.Sheets.SheetName)
	envString("GOOGLE_SHEETS_KEY_FILE", &c.Sheets.CredentialsFile)
	envString("GOOGLE_CREDENTIALS_JSON", &c.Sheets.CredentialsJSON)

	envString("GEMINI_API_KEY", &c.Speech.APIKey)
	envString("GEMINI_TTS_MODEL", &c.Speech.Model)
	envString("GEMINI_TTS_VOICE", &c.Speech.Voice)
	envString("GEMINI_TTS_LANGUAGE", &c.Speech.Language)
	envString("GEMINI_MODEL", &c.Speech.TextModel)
	envInt("GEMINI_TIMEOUT_SECONDS", &c.Speech.TimeoutSec)

	envString("WAV2LIP_PYTHON", &c.LipSync.Python)
	envString("WAV2LIP_SCRIPT", &c.LipSync.Script)
	envString("WAV2LIP_CHECKPOINT", &c.LipSync.Checkpoint)
	envInt("WAV2LIP_RESIZE_FACTOR", &c.LipSync.ResizeFactor)
	envInt("WAV2LIP_TIMEOUT_SECONDS", &c.LipSync.TimeoutSec)

	envString("PUBLISH_BACKEND", &c.Publish.Backend)
	envString("GOOGLE_DRIVE_FOLDER_ID", &c.Publish.DriveFolderID)
	envString("VIDEO_BUCKET_NAME", &c.Publish.Bucket)
	envString("VIDEO_KEY_PREFIX", &c.Publish.KeyPrefix)
	envString("AWS_REGION", &c.Publish.Region)

	envString("AVATAR_WORKSPACE_DIR", &c.Workspace.Root)
	envBool("AVATAR_KEEP_ARTIFACTS", &c.Workspace.KeepArtifacts)

	envString("RUN_LEDGER_TABLE", &c.Ledger.Table)
	envBool("AVATAR_FORCE", &c.Batch.Force)
	envBool("AVATAR_REQUIRE_BLESSING", &c.Batch.RequireBlessing)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func envInt(name string, dst *int) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("envVar", name).Str("value", v).Msg("Ignoring non-integer environment value")
		return
	}
	*dst = n
}

func envBool(name string, dst *bool) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Warn().Str("envVar", name).Str("value", v).Msg("Ignoring non-boolean environment value")
		return
	}
	*dst = b
}
