// Command avatar-cli runs the guest avatar pipeline from a workstation
// with a local Wav2Lip install.
//
// Examples:
//
//	avatar-cli guests
//	avatar-cli blessings 0,2,5-7
//	avatar-cli generate 3 --force
//	avatar-cli normalize raw.png face.jpg
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/guest-avatar/internal/auth"
	"github.com/fpang/guest-avatar/internal/config"
	"github.com/fpang/guest-avatar/internal/logging"
	"github.com/fpang/guest-avatar/internal/metrics"
)

// commitHash is set at build time via -ldflags.
var commitHash = "dev"

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "avatar-cli",
	Short: "Generate lip-synced wedding blessing videos for guests",
	Long: `avatar-cli reads the guest spreadsheet, voices each guest's blessing with
Gemini text-to-speech (or their uploaded recording), animates their photo
with Wav2Lip and publishes the video, writing the link and status back to
the sheet.

Guests are selected by 0-based data row; --all selects every guest.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init()
		// EMF lines would interleave with the result tables on stdout.
		if os.Getenv("AVATAR_METRICS") == "" {
			metrics.SetOutput(io.Discard)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "TOML config file (default $AVATAR_CONFIG)")
	rootCmd.AddCommand(generateCmd, blessingsCmd, guestsCmd, normalizeCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the root command with args and returns the process exit code.
func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

// loadConfig loads configuration and fills the Gemini key from the local
// credential store when the environment has none.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if cfg.Speech.APIKey == "" {
		if key, err := auth.GetAPIKey(); err == nil {
			cfg.Speech.APIKey = key
		} else {
			log.Debug().Err(err).Msg("No Gemini API key found")
		}
	}
	return cfg, nil
}
