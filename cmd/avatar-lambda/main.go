// Package main provides the Lambda entry point for a guest avatar batch.
//
// The function is invoked with the guests to process and returns the batch
// summary. Secrets (Gemini key, Google service account) come from SSM
// Parameter Store at cold start. The container image bundles Python and the
// Wav2Lip checkpoint; the workspace root lives under /tmp.
//
// Event:
//
//	{"guestIndexes": [0, 2], "force": false, "task": "videos"}
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/app"
	"github.com/fpang/guest-avatar/internal/config"
	"github.com/fpang/guest-avatar/internal/lambdaboot"
	"github.com/fpang/guest-avatar/internal/logging"
)

// commitHash is set at build time via -ldflags.
var commitHash = "dev"

// Components initialized at cold start.
var (
	cfg     *config.Config
	avatars *app.App
)

func init() {
	initStart := time.Now()
	logging.Init()

	aws := lambdaboot.InitAWS()
	lambdaboot.LoadSecrets(aws.SSM)

	var err error
	cfg, err = config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	extras := app.Extras{AWS: &aws.Config, S3: lambdaboot.InitS3(aws.Config)}
	if ledger := lambdaboot.InitLedger(aws.Config, cfg.Ledger.Table); ledger != nil {
		extras.Ledger = ledger
	}
	avatars, err = app.New(context.Background(), cfg, extras)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}

	sl := lambdaboot.StartupLog("avatar-lambda", initStart).CommitHash(commitHash).
		SSMParam("geminiKey", logging.EnvOrDefault(lambdaboot.GeminiKeyParamEnv, lambdaboot.DefaultGeminiKeyParam))
	if cfg.Sheets.CredentialsFile == "" {
		sl.SSMParam("googleCredentials", logging.EnvOrDefault(lambdaboot.GoogleCredsParamEnv, lambdaboot.DefaultGoogleCredsParam))
	}
	avatars.Describe(sl).Log()
}

func handler(ctx context.Context, event app.BatchEvent) (any, error) {
	logger := log.With().
		Ints("guestIndexes", event.GuestIndexes).
		Bool("force", event.Force).
		Str("task", event.Task).
		Logger()
	logger.Info().Msg("Batch invocation received")
	if err := event.Validate(); err != nil {
		logger.Warn().Err(err).Msg("Rejected batch event")
		return nil, err
	}

	switch event.Task {
	case "", app.TaskVideos:
		unlock, err := avatars.Workspace.Lock(ctx)
		if err != nil {
			return nil, err
		}
		defer unlock()

		coord := avatars.Coordinator
		if event.Force != cfg.Batch.Force {
			coord = avatars.WithForce(event.Force)
		}
		return coord.RunBatch(ctx, event.GuestIndexes)

	case app.TaskBlessings:
		if avatars.Blessings == nil {
			return nil, app.ErrNoBlessingWriter
		}
		return avatars.Blessings.RunBatch(ctx, event.GuestIndexes)

	default:
		return nil, fmt.Errorf("unknown task %q", event.Task)
	}
}

func main() {
	if os.Getenv("AWS_LAMBDA_RUNTIME_API") == "" {
		log.Warn().Msg("Not running inside Lambda; use avatar-cli for local batches")
	}
	lambda.Start(handler)
}
