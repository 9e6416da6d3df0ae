// Package auth locates the Gemini API key for local runs.
package auth

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".guest-avatar"
	credentialFile = "credentials.gpg"

	// PassphraseEnv names a file holding the GPG passphrase for
	// non-interactive decryption.
	PassphraseEnv = "AVATAR_GPG_PASSPHRASE_FILE"
)

// ErrNoAPIKey means no source produced a key.
var ErrNoAPIKey = errors.New("API key not found. Set GEMINI_API_KEY or store it in ~/" + credentialDir + "/" + credentialFile)

// GetAPIKey returns the Gemini API key. Priority order:
//  1. GEMINI_API_KEY environment variable
//  2. GPG-encrypted file at ~/.guest-avatar/credentials.gpg
func GetAPIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, nil
	}

	key, err := getFromGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, nil
	}

	log.Debug().Err(err).Msg("No API key in GPG credentials")
	return "", ErrNoAPIKey
}

// getFromGPG decrypts the key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(credPath); err != nil {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	args := []string{"--decrypt", "--quiet"}
	if pp := os.Getenv(PassphraseEnv); pp != "" {
		fi, err := os.Stat(pp)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("passphrase_file", pp).Msg("Passphrase file not readable; skipping")
		case fi.Mode().Perm()&0o077 != 0:
			log.Warn().
				Str("passphrase_file", pp).
				Str("permissions", fmt.Sprintf("%04o", fi.Mode().Perm())).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		default:
			args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", pp)
		}
	}
	args = append(args, credPath)

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")
	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}
