// Package app wires configuration into the pipeline components shared by
// the CLI and the Lambda.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/fpang/guest-avatar/internal/audio"
	"github.com/fpang/guest-avatar/internal/blessing"
	"github.com/fpang/guest-avatar/internal/config"
	"github.com/fpang/guest-avatar/internal/fetch"
	"github.com/fpang/guest-avatar/internal/guest"
	"github.com/fpang/guest-avatar/internal/imaging"
	"github.com/fpang/guest-avatar/internal/lipsync"
	"github.com/fpang/guest-avatar/internal/logging"
	"github.com/fpang/guest-avatar/internal/pipeline"
	"github.com/fpang/guest-avatar/internal/publish"
	"github.com/fpang/guest-avatar/internal/sheets"
	"github.com/fpang/guest-avatar/internal/speech"
	"github.com/fpang/guest-avatar/internal/store"
	"github.com/fpang/guest-avatar/internal/workspace"
)

// ErrNoBlessingWriter is returned when blessings are requested without a
// Gemini key.
var ErrNoBlessingWriter = errors.New("blessing generation needs GEMINI_API_KEY")

// Extras are prebuilt clients. Nil fields are built from Config when needed.
type Extras struct {
	AWS    *aws.Config
	S3     publish.S3API
	Ledger pipeline.ResultSink
	// GoogleOptions are appended to every Google API client.
	GoogleOptions []option.ClientOption
}

// App holds the wired components.
type App struct {
	Config      *config.Config
	Store       guest.Store
	Workspace   *workspace.Manager
	LipSync     *lipsync.Invoker
	Publisher   *publish.Publisher
	Ledger      pipeline.ResultSink
	Coordinator *pipeline.Coordinator
	// Blessings is nil when no Gemini key is configured.
	Blessings *blessing.Writer

	deps pipeline.Deps
}

// GoogleOptions returns the credential options for Google API clients.
func GoogleOptions(cfg *config.Config) []option.ClientOption {
	switch {
	case cfg.Sheets.CredentialsJSON != "":
		return []option.ClientOption{option.WithCredentialsJSON([]byte(cfg.Sheets.CredentialsJSON))}
	case cfg.Sheets.CredentialsFile != "":
		return []option.ClientOption{option.WithCredentialsFile(cfg.Sheets.CredentialsFile)}
	default:
		return nil
	}
}

// OpenStore connects to the guest spreadsheet.
func OpenStore(ctx context.Context, cfg *config.Config, extra ...option.ClientOption) (*sheets.Store, error) {
	if err := cfg.RequireSheets(); err != nil {
		return nil, err
	}
	return sheets.New(ctx, sheets.Options{
		SpreadsheetID:   cfg.Sheets.SpreadsheetID,
		SheetName:       cfg.Sheets.SheetName,
		CredentialsFile: cfg.Sheets.CredentialsFile,
		CredentialsJSON: cfg.Sheets.CredentialsJSON,
		ClientOptions:   extra,
	})
}

// New builds every component for cfg.
func New(ctx context.Context, cfg *config.Config, ex Extras) (*App, error) {
	guests, err := OpenStore(ctx, cfg, ex.GoogleOptions...)
	if err != nil {
		return nil, fmt.Errorf("guest store: %w", err)
	}

	googleOpts := append(GoogleOptions(cfg), ex.GoogleOptions...)
	driveSvc, err := publish.NewDriveService(ctx, googleOpts...)
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(fetch.WithDrive(driveSvc))

	var synth audio.Synthesizer
	var writer *blessing.Writer
	if cfg.Speech.APIKey != "" {
		tts, err := speech.New(ctx, cfg.Speech.APIKey, speech.Options{
			Model:    cfg.Speech.Model,
			Voice:    cfg.Speech.Voice,
			Language: cfg.Speech.Language,
			Timeout:  cfg.SpeechTimeout(),
		})
		if err != nil {
			return nil, err
		}
		synth = tts

		gen, err := blessing.NewGemini(ctx, cfg.Speech.APIKey, blessing.GeminiOptions{
			Model:   cfg.Speech.TextModel,
			Timeout: cfg.SpeechTimeout(),
		})
		if err != nil {
			return nil, err
		}
		writer = blessing.NewWriter(guests, gen)
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, blessings will not be synthesized")
	}

	publisher, err := newPublisher(ctx, cfg, ex, driveSvc)
	if err != nil {
		return nil, err
	}

	ledger := ex.Ledger
	if ledger == nil && cfg.Ledger.Table != "" {
		awsCfg, err := loadAWS(ctx, cfg, ex)
		if err != nil {
			return nil, err
		}
		ledger = store.NewDynamoLedger(dynamodb.NewFromConfig(*awsCfg), cfg.Ledger.Table)
	}

	invoker := lipsync.New(lipsync.Options{
		Python:       cfg.LipSync.Python,
		Script:       cfg.LipSync.Script,
		Checkpoint:   cfg.LipSync.Checkpoint,
		ResizeFactor: cfg.LipSync.ResizeFactor,
		Timeout:      cfg.LipSyncTimeout(),
	})
	ws := workspace.New(cfg.Workspace.Root, cfg.Workspace.KeepArtifacts)

	a := &App{
		Config:    cfg,
		Store:     guests,
		Workspace: ws,
		LipSync:   invoker,
		Publisher: publisher,
		Ledger:    ledger,
		Blessings: writer,
	}
	a.deps = pipeline.Deps{
		Store:     guests,
		Audio:     audio.NewResolver(synth, fetcher),
		Fetcher:   fetcher,
		Normalize: imaging.NormalizeFile,
		LipSync:   invoker,
		Publisher: publisher,
		Sessions:  ws,
		Sink:      ledger,
	}
	a.Coordinator = pipeline.NewCoordinator(a.deps, batchOptions(cfg))
	return a, nil
}

// WithForce returns a coordinator over the same components with the given
// force policy.
func (a *App) WithForce(force bool) *pipeline.Coordinator {
	opts := batchOptions(a.Config)
	opts.Force = force
	return pipeline.NewCoordinator(a.deps, opts)
}

func batchOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{Force: cfg.Batch.Force, RequireBlessing: cfg.Batch.RequireBlessing}
}

func newPublisher(ctx context.Context, cfg *config.Config, ex Extras, driveSvc *drive.Service) (*publish.Publisher, error) {
	dest := cfg.PublishDestination()
	switch cfg.Publish.Backend {
	case config.BackendDrive:
		return publish.New(publish.NewDriveUploader(driveSvc, dest), dest), nil
	case config.BackendS3:
		client := ex.S3
		if client == nil {
			awsCfg, err := loadAWS(ctx, cfg, ex)
			if err != nil {
				return nil, err
			}
			client = s3.NewFromConfig(*awsCfg)
		}
		return publish.New(publish.NewS3Uploader(client, dest, cfg.Publish.Region, cfg.Publish.KeyPrefix), dest), nil
	default:
		return publish.New(nil, ""), nil
	}
}

func loadAWS(ctx context.Context, cfg *config.Config, ex Extras) (*aws.Config, error) {
	if ex.AWS != nil {
		return ex.AWS, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Publish.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Publish.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &awsCfg, nil
}

// Describe adds the configured resources to a startup summary.
func (a *App) Describe(sl *logging.StartupLogger) *logging.StartupLogger {
	cfg := a.Config
	sl.Resource("sheet", cfg.Sheets.SpreadsheetID+"/"+cfg.Sheets.SheetName).
		Resource("workspace", cfg.Workspace.Root).
		Resource("checkpoint", cfg.LipSync.Checkpoint).
		Config("publishBackend", cfg.Publish.Backend).
		Config("ttsModel", cfg.Speech.Model).
		Config("resizeFactor", strconv.Itoa(cfg.LipSync.ResizeFactor)).
		Feature("speech", cfg.Speech.APIKey != "").
		Feature("publish", a.Publisher.Configured()).
		Feature("ledger", a.Ledger != nil).
		Feature("keepArtifacts", cfg.Workspace.KeepArtifacts).
		Feature("force", cfg.Batch.Force).
		Feature("requireBlessing", cfg.Batch.RequireBlessing)
	if dest := cfg.PublishDestination(); dest != "" {
		sl.Resource("destination", dest)
	}
	if cfg.Ledger.Table != "" {
		sl.Resource("ledger", cfg.Ledger.Table)
	}
	return sl
}
