// Package lambdaboot provides the Lambda cold-start bootstrap: AWS config,
// SSM secret loading and the clients the batch handler needs.
package lambdaboot

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/logging"
	"github.com/fpang/guest-avatar/internal/store"
)

// Default SSM parameter names, overridable through the matching *_PARAM
// environment variables.
const (
	DefaultGeminiKeyParam    = "/guest-avatar/prod/gemini-api-key"
	DefaultGoogleCredsParam  = "/guest-avatar/prod/google-service-account"
	GeminiKeyParamEnv        = "SSM_API_KEY_PARAM"
	GoogleCredsParamEnv      = "SSM_GOOGLE_CREDENTIALS_PARAM"
	GoogleCredentialsJSONEnv = "GOOGLE_CREDENTIALS_JSON"
)

// ParameterGetter is the SSM call used for secrets.
type ParameterGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS() AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}
}

// InitS3 creates an S3 client.
func InitS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// InitLedger creates the DynamoDB run ledger, or returns nil with a
// warning when tableName is empty.
func InitLedger(cfg aws.Config, tableName string) *store.DynamoLedger {
	if tableName == "" {
		log.Warn().Msg("Run ledger table not set, ledger disabled")
		return nil
	}
	return store.NewDynamoLedger(dynamodb.NewFromConfig(cfg), tableName)
}

// LoadSecret sets envVar from the SSM parameter named by paramEnvVar (or
// defaultParam) unless envVar is already set. Values are decrypted.
func LoadSecret(ctx context.Context, client ParameterGetter, envVar, paramEnvVar, defaultParam string) error {
	if os.Getenv(envVar) != "" {
		return nil
	}
	paramName := os.Getenv(paramEnvVar)
	if paramName == "" {
		paramName = defaultParam
	}

	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("read %s from SSM: %w", paramName, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return fmt.Errorf("SSM parameter %s has no value", paramName)
	}
	os.Setenv(envVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Str("env", envVar).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return nil
}

// LoadSecrets loads the Gemini key and the Google service account JSON.
// Fatals on error.
func LoadSecrets(client ParameterGetter) {
	ctx := context.Background()
	if err := LoadSecret(ctx, client, "GEMINI_API_KEY", GeminiKeyParamEnv, DefaultGeminiKeyParam); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Gemini API key")
	}
	if os.Getenv("GOOGLE_SHEETS_KEY_FILE") != "" {
		return
	}
	if err := LoadSecret(ctx, client, GoogleCredentialsJSONEnv, GoogleCredsParamEnv, DefaultGoogleCredsParam); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Google service account credentials")
	}
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
