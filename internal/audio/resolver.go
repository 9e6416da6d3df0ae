// Package audio decides which track a guest's video is voiced with.
//
// A non-empty blessing is spoken by the speech service first; a recording
// the guest uploaded is only used when there is no blessing or synthesis
// failed. The policy is a small state machine:
//
//	NotAttempted --blessing--> AITried --ok--> Resolved
//	     |                        \--fail, usable upload--> FallbackTried
//	     |                        \--fail, no upload------> Failed
//	     \--no blessing, upload--> FallbackTried --ok--> Resolved
//	     \--nothing--------------> Failed                \--fail--> Failed
package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/fetch"
)

// ErrNoAudioAvailable means neither synthesis nor the uploaded recording
// produced audio.
var ErrNoAudioAvailable = errors.New("no audio available")

// errSynthUnavailable stands in for synthesis when no service is configured.
var errSynthUnavailable = errors.New("speech synthesis not configured")

// State is a resolver state.
type State int

const (
	NotAttempted State = iota
	AITried
	FallbackTried
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case NotAttempted:
		return "not_attempted"
	case AITried:
		return "ai_tried"
	case FallbackTried:
		return "fallback_tried"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Source tags where resolved audio came from.
type Source int

const (
	SourceNone Source = iota
	SourceAIGenerated
	SourceUploaded
)

func (s Source) String() string {
	switch s {
	case SourceAIGenerated:
		return "ai_generated"
	case SourceUploaded:
		return "uploaded"
	default:
		return "none"
	}
}

// Synthesizer turns text into WAV audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Fetcher downloads a remote asset.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (*fetch.Asset, error)
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Data   []byte
	Source Source
	// Ext is the file extension to store Data under, including the dot.
	Ext string
	// Text is the spoken blessing for SourceAIGenerated.
	Text string
	// Ref is the uploaded reference for SourceUploaded.
	Ref string
	// Trail lists visited states in order, ending in Resolved or Failed.
	Trail []State
	// SynthErr is the synthesis failure that triggered a fallback, if any.
	SynthErr error
}

// Resolver applies the audio policy.
type Resolver struct {
	synth   Synthesizer
	fetcher Fetcher
}

// NewResolver creates a Resolver. synth may be nil, in which case every
// synthesis attempt fails and the uploaded recording is used if present.
func NewResolver(synth Synthesizer, fetcher Fetcher) *Resolver {
	return &Resolver{synth: synth, fetcher: fetcher}
}

// Resolve returns the audio to voice the video with. Failure wraps
// ErrNoAudioAvailable together with the last underlying cause.
func (r *Resolver) Resolve(ctx context.Context, blessing, uploadedRef string) (*Resolution, error) {
	m := &machine{
		r:        r,
		blessing: strings.TrimSpace(blessing),
		ref:      strings.TrimSpace(uploadedRef),
		res:      &Resolution{},
	}

	state := NotAttempted
	m.res.Trail = append(m.res.Trail, state)
	for state != Resolved && state != Failed {
		state = m.step(ctx, state)
		m.res.Trail = append(m.res.Trail, state)
	}

	evt := log.Debug().Str("trail", trailString(m.res.Trail))
	if state == Failed {
		evt.Err(m.lastErr).Msg("Audio resolution failed")
		if m.lastErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoAudioAvailable, m.lastErr)
		}
		return nil, ErrNoAudioAvailable
	}
	evt.Str("source", m.res.Source.String()).Int("bytes", len(m.res.Data)).Msg("Audio resolved")
	return m.res, nil
}

type machine struct {
	r        *Resolver
	blessing string
	ref      string
	res      *Resolution
	lastErr  error
	// ok is the outcome of the attempt that led to the current state.
	ok bool
}

// step performs the attempt the transition out of state requires and
// returns the next state. AITried and FallbackTried mean the attempt has
// been made; m.ok carries its outcome.
func (m *machine) step(ctx context.Context, state State) State {
	switch state {
	case NotAttempted:
		if m.blessing != "" {
			m.ok = m.synthesize(ctx)
			return AITried
		}
		if m.ref != "" {
			m.ok = m.fetchUpload(ctx)
			return FallbackTried
		}
		m.lastErr = errors.New("no blessing text and no uploaded recording")
		return Failed

	case AITried:
		if m.ok {
			return Resolved
		}
		if m.ref == "" {
			m.lastErr = fmt.Errorf("synthesis failed and no uploaded recording: %w", m.res.SynthErr)
			return Failed
		}
		if _, err := fetch.ParseRef(m.ref); err != nil {
			m.lastErr = fmt.Errorf("synthesis failed and uploaded recording unusable: %w", err)
			return Failed
		}
		m.ok = m.fetchUpload(ctx)
		return FallbackTried

	case FallbackTried:
		if m.ok {
			return Resolved
		}
		return Failed

	default:
		return Failed
	}
}

func (m *machine) synthesize(ctx context.Context) bool {
	var data []byte
	err := errSynthUnavailable
	if m.r.synth != nil {
		data, err = m.r.synth.Synthesize(ctx, m.blessing)
	}
	if err == nil && len(data) == 0 {
		err = errors.New("synthesis returned no audio")
	}
	if err != nil {
		log.Warn().Err(err).Bool("hasUpload", m.ref != "").Msg("Blessing synthesis failed")
		m.res.SynthErr = err
		m.lastErr = err
		return false
	}

	m.res.Data = data
	m.res.Source = SourceAIGenerated
	m.res.Ext = ".wav"
	m.res.Text = m.blessing
	return true
}

func (m *machine) fetchUpload(ctx context.Context) bool {
	if m.r.fetcher == nil {
		m.lastErr = errors.New("no fetcher configured")
		return false
	}
	asset, err := m.r.fetcher.Fetch(ctx, m.ref)
	if err != nil {
		m.lastErr = fmt.Errorf("fetch uploaded recording: %w", err)
		return false
	}
	if len(asset.Data) == 0 {
		m.lastErr = errors.New("uploaded recording is empty")
		return false
	}

	ext := asset.Ext
	if ext == "" {
		ext = ".wav"
	}
	m.res.Data = asset.Data
	m.res.Source = SourceUploaded
	m.res.Ext = ext
	m.res.Ref = m.ref
	return true
}

func trailString(trail []State) string {
	parts := make([]string, len(trail))
	for i, s := range trail {
		parts[i] = s.String()
	}
	return strings.Join(parts, ">")
}
