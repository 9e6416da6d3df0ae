// Package speech synthesizes blessing audio with Gemini text-to-speech.
// Gemini returns raw 16-bit PCM; Synthesize wraps it as a WAV file so the
// lip-sync model can read it directly.
package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/guest-avatar/internal/metrics"
)

// Options configure a Client.
type Options struct {
	Model    string
	Voice    string
	Language string
	// Timeout bounds a single request; zero leaves it to ctx.
	Timeout time.Duration
	// BaseURL overrides the Gemini endpoint.
	BaseURL string
}

// Client is a Gemini TTS client.
type Client struct {
	genai *genai.Client
	opts  Options
}

// New creates a Client for the Gemini Developer API.
func New(ctx context.Context, apiKey string, opts Options) (*Client, error) {
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
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing genai client.
func NewWithClient(client *genai.Client, opts Options) *Client {
	return &Client{genai: client, opts: opts}
}

// Synthesize speaks text and returns WAV bytes.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &Error{Type: ErrTypeUnknown, Message: "no text to synthesize"}
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			LanguageCode: c.opts.Language,
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.opts.Voice},
			},
		},
	}

	start := time.Now()
	resp, err := c.genai.Models.GenerateContent(ctx, c.opts.Model, genai.Text(text), config)
	if err != nil {
		serr := classifyError(err)
		c.record(serr.Type.String(), start)
		log.Warn().Err(err).Str("model", c.opts.Model).Str("type", serr.Type.String()).Msg("Speech synthesis failed")
		return nil, serr
	}

	pcm, mimeType := extractAudio(resp)
	if len(pcm) == 0 {
		c.record(ErrTypeEmptyAudio.String(), start)
		return nil, &Error{Type: ErrTypeEmptyAudio, Message: "model returned no audio"}
	}

	wav := pcm
	if !isWAV(pcm) {
		wav = WrapPCM(pcm, sampleRate(mimeType))
	}
	c.record("success", start)

	log.Debug().
		Str("model", c.opts.Model).
		Str("voice", c.opts.Voice).
		Str("mimeType", mimeType).
		Int("textLen", len([]rune(text))).
		Int("bytes", len(wav)).
		Dur("elapsed", time.Since(start)).
		Msg("Speech synthesized")
	return wav, nil
}

func (c *Client) record(result string, start time.Time) {
	metrics.New().
		Dimension("Result", result).
		Since("SpeechSynthesisMs", start).
		Count("SpeechSynthesisResult").
		Flush()
}

// extractAudio returns the concatenated inline audio parts of the first
// candidate and the mime type of the first audio part.
func extractAudio(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ""
	}
	var data []byte
	var mimeType string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		if mimeType == "" {
			mimeType = part.InlineData.MIMEType
		}
		data = append(data, part.InlineData.Data...)
	}
	return data, mimeType
}
