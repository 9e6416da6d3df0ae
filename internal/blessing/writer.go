// Package blessing drafts short wedding blessings for guests who have not
// written their own, and stores them on the guest record so the video
// pipeline can voice them.
package blessing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/assets"
	"github.com/fpang/guest-avatar/internal/guest"
	"github.com/fpang/guest-avatar/internal/metrics"
)

// ErrMissingDetails means the guest has no name or relation to write about.
var ErrMissingDetails = errors.New("guest name or relation missing")

// Prompt carries the guest details a blessing is written from.
type Prompt struct {
	Name       string
	Relation   string
	Suggestion string
	Style      string
}

// String renders the instruction sent to the model.
func (p Prompt) String() string {
	return assets.RenderBlessingPrompt(assets.BlessingData{
		Name:       p.Name,
		Relation:   p.Relation,
		Suggestion: p.Suggestion,
		Style:      p.Style,
	})
}

// Generator writes one blessing.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Result is the outcome for one guest.
type Result struct {
	Row      int    `json:"row"`
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Blessing string `json:"blessing,omitempty"`
	Status   string `json:"status,omitempty"`
	Message  string `json:"message,omitempty"`
	// WriteBackError is set when the result could not be stored.
	WriteBackError string `json:"writeBackError,omitempty"`
}

// Summary is the outcome of a batch.
type Summary struct {
	ProcessedCount int      `json:"processedCount"`
	Results        []Result `json:"results"`
	Unknown        []int    `json:"unknown,omitempty"`
}

// Writer generates blessings for selected guests.
type Writer struct {
	store guest.Store
	gen   Generator
}

// NewWriter creates a Writer.
func NewWriter(store guest.Store, gen Generator) *Writer {
	return &Writer{store: store, gen: gen}
}

// RunBatch drafts a blessing for each selected guest in order. Existing
// blessings are regenerated. An empty selection processes nothing. The
// only error returned is a failure to read the guest list.
func (w *Writer) RunBatch(ctx context.Context, selected []int) (*Summary, error) {
	start := time.Now()
	if len(selected) == 0 {
		log.Warn().Msg("No guests selected for blessings, nothing to do")
		return &Summary{Results: []Result{}}, nil
	}
	records, err := w.store.Guests(ctx)
	if err != nil {
		return nil, fmt.Errorf("read guests: %w", err)
	}
	guests, unknown := guest.Select(records, selected)
	for _, row := range unknown {
		log.Warn().Int("row", row).Msg("Selected guest not found, skipping")
	}

	summary := &Summary{Results: make([]Result, 0, len(guests)), Unknown: unknown}
	for _, g := range guests {
		if err := ctx.Err(); err != nil {
			summary.Results = append(summary.Results, Result{Row: g.Row, Name: g.Name, Message: "batch cancelled: " + err.Error()})
			continue
		}
		res := w.runGuest(ctx, g)
		if res.Success {
			summary.ProcessedCount++
		}
		summary.Results = append(summary.Results, res)
	}

	metrics.New().
		Metric("BlessingGuests", float64(len(guests)), metrics.UnitCount).
		Metric("BlessingSucceeded", float64(summary.ProcessedCount), metrics.UnitCount).
		Since("BlessingBatchMs", start).
		Flush()
	log.Info().
		Int("succeeded", summary.ProcessedCount).
		Int("total", len(guests)).
		Dur("elapsed", time.Since(start)).
		Msg("Blessing batch complete")
	return summary, nil
}

func (w *Writer) runGuest(ctx context.Context, g guest.Record) (res Result) {
	res = Result{Row: g.Row, Name: g.Name}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("row", g.Row).Msg("Blessing generation panicked")
			res = w.fail(ctx, g, fmt.Errorf("panic: %v", r))
		}
	}()

	if strings.TrimSpace(g.Name) == "" || strings.TrimSpace(g.Relation) == "" {
		return w.fail(ctx, g, ErrMissingDetails)
	}

	text, err := w.gen.Generate(ctx, Prompt{
		Name:       strings.TrimSpace(g.Name),
		Relation:   strings.TrimSpace(g.Relation),
		Suggestion: g.BlessingSuggestion,
		Style:      g.BlessingStyle,
	})
	if err != nil {
		return w.fail(ctx, g, err)
	}

	res.Blessing = text
	res.Status = guest.StatusBlessingDone
	if err := w.write(ctx, g.Row, guest.FieldBlessing, text); err != nil {
		log.Error().Err(err).Int("row", g.Row).Msg("Failed to store blessing")
		res.Status = guest.StatusBlessingFailed
		res.Message = "store blessing: " + err.Error()
		res.WriteBackError = err.Error()
		w.writeStatus(ctx, g.Row, guest.StatusBlessingFailed, &res)
		return res
	}
	w.writeStatus(ctx, g.Row, guest.StatusBlessingDone, &res)
	res.Success = res.WriteBackError == ""

	log.Info().Int("row", g.Row).Str("guest", g.Name).Int("length", len([]rune(text))).Msg("Blessing written")
	return res
}

func (w *Writer) fail(ctx context.Context, g guest.Record, err error) Result {
	log.Warn().Err(err).Int("row", g.Row).Str("guest", g.Name).Msg("Blessing generation failed")
	res := Result{Row: g.Row, Name: g.Name, Status: guest.StatusBlessingFailed, Message: err.Error()}
	w.writeStatus(ctx, g.Row, guest.StatusBlessingFailed, &res)
	return res
}

// writeStatus records status for row. On failure the Result's Status is
// cleared so it never claims an unwritten status.
func (w *Writer) writeStatus(ctx context.Context, row int, status string, res *Result) {
	if err := w.write(ctx, row, guest.FieldStatus, status); err != nil {
		log.Error().Err(err).Int("row", row).Str("status", status).Msg("Failed to report blessing status")
		res.Status = ""
		res.WriteBackError = err.Error()
	}
}

func (w *Writer) write(ctx context.Context, row int, field, value string) error {
	ctx, cancel := guest.WriteContext(ctx)
	defer cancel()
	return w.store.WriteField(ctx, row, field, value)
}
