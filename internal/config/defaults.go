package config

import (
	"os"
	"path/filepath"
)

// Default values. The sheet name is the Google Forms response sheet the
// guest form writes into.
const (
	DefaultSheetName    = "表單回應 1"
	DefaultTTSModel     = "gemini-2.5-flash-preview-tts"
	DefaultTTSVoice     = "Kore"
	DefaultTTSLanguage  = "cmn-CN"
	DefaultTextModel    = "gemini-2.5-flash"
	DefaultPython       = "python"
	DefaultResizeFactor = 2
	DefaultLipSyncSec   = 15 * 60
	DefaultSpeechSec    = 60
)

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Sheets: Sheets{
			SheetName: DefaultSheetName,
		},
		Speech: Speech{
			Model:      DefaultTTSModel,
			Voice:      DefaultTTSVoice,
			Language:   DefaultTTSLanguage,
			TextModel:  DefaultTextModel,
			TimeoutSec: DefaultSpeechSec,
		},
		LipSync: LipSync{
			Python:       DefaultPython,
			Script:       filepath.Join("Wav2Lip-master", "inference.py"),
			Checkpoint:   filepath.Join("Wav2Lip-master", "checkpoints", "wav2lip_gan.pth"),
			ResizeFactor: DefaultResizeFactor,
			TimeoutSec:   DefaultLipSyncSec,
		},
		Publish: Publish{
			Backend: BackendDrive,
		},
		Workspace: Workspace{
			Root: filepath.Join(os.TempDir(), "guest-avatar"),
		},
	}
}
