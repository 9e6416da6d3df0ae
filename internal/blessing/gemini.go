package blessing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/guest-avatar/internal/metrics"
)

// GeminiOptions configure a GeminiGenerator.
type GeminiOptions struct {
	Model   string
	Timeout time.Duration
	// BaseURL overrides the Gemini endpoint.
	BaseURL string
}

// GeminiGenerator writes blessings with a Gemini text model.
type GeminiGenerator struct {
	client *genai.Client
	opts   GeminiOptions
}

var _ Generator = (*GeminiGenerator)(nil)

// NewGemini creates a GeminiGenerator for the Gemini Developer API.
func NewGemini(ctx context.Context, apiKey string, opts GeminiOptions) (*GeminiGenerator, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, opts: opts}, nil
}

// Generate returns the model's blessing for p.
func (gg *GeminiGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	if gg.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, gg.opts.Timeout)
		defer cancel()
	}

	prompt := p.String()
	start := time.Now()
	log.Debug().
		Str("model", gg.opts.Model).
		Int("prompt_length", len(prompt)).
		Msg("Starting Gemini API call for blessing generation")

	resp, err := gg.client.Models.GenerateContent(ctx, gg.opts.Model, genai.Text(prompt), nil)
	if err != nil {
		gg.record("error", start)
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if resp == nil {
		gg.record("empty", start)
		return "", fmt.Errorf("received empty response from Gemini API")
	}

	text := cleanText(resp.Text())
	if text == "" {
		gg.record("empty", start)
		return "", fmt.Errorf("model returned no text")
	}
	gg.record("success", start)
	log.Debug().
		Int("response_length", len([]rune(text))).
		Dur("duration", time.Since(start)).
		Msg("Gemini API response received for blessing generation")
	return text, nil
}

func (gg *GeminiGenerator) record(result string, start time.Time) {
	metrics.New().
		Dimension("Result", result).
		Since("BlessingGenerationMs", start).
		Count("BlessingGenerationResult").
		Flush()
}
