// Package pipeline runs the per-guest avatar video pipeline over a batch of
// guests. Guests are processed strictly one at a time; every failure inside
// a guest's run, panics included, is turned into that guest's Result and
// never stops the batch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/audio"
	"github.com/fpang/guest-avatar/internal/fetch"
	"github.com/fpang/guest-avatar/internal/guest"
	"github.com/fpang/guest-avatar/internal/imaging"
	"github.com/fpang/guest-avatar/internal/jobs"
	"github.com/fpang/guest-avatar/internal/lipsync"
	"github.com/fpang/guest-avatar/internal/metrics"
	"github.com/fpang/guest-avatar/internal/publish"
	"github.com/fpang/guest-avatar/internal/workspace"
)

// AudioResolver picks the audio track for a guest.
type AudioResolver interface {
	Resolve(ctx context.Context, blessing, uploadedRef string) (*audio.Resolution, error)
}

// AssetFetcher downloads a remote asset into a directory.
type AssetFetcher interface {
	FetchTo(ctx context.Context, ref, dir, base, fallbackExt string) (string, *fetch.Asset, error)
}

// LipSyncer runs video synthesis.
type LipSyncer interface {
	Ready() error
	Synthesize(ctx context.Context, facePath, audioPath, outPath string) (string, error)
}

// ArtifactPublisher uploads a finished video.
type ArtifactPublisher interface {
	Publish(ctx context.Context, localPath, displayName string) publish.Artifact
}

// Sessions creates per-guest workspaces.
type Sessions interface {
	Acquire() (*workspace.Session, error)
}

// ResultSink receives every Result as soon as it is final.
type ResultSink interface {
	Record(ctx context.Context, batchID string, r Result) error
}

// Deps are the collaborators a Coordinator drives. Sink is optional.
type Deps struct {
	Store     guest.Store
	Audio     AudioResolver
	Fetcher   AssetFetcher
	Normalize func(src, dst string) error
	LipSync   LipSyncer
	Publisher ArtifactPublisher
	Sessions  Sessions
	Sink      ResultSink
}

// Options tune a batch.
type Options struct {
	// Force reprocesses guests that already have a video.
	Force bool
	// RequireBlessing skips guests whose status is not blessing_done or
	// blessing_failed, i.e. guests the blessing writer has not visited.
	RequireBlessing bool
}

// Result is the outcome for one guest.
type Result struct {
	Row     int    `json:"row"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	// Status is the terminal status written back. It is empty when the
	// status was not recorded: skipped and cancelled guests, or a failed
	// write-back (see WriteBackError).
	Status string `json:"status,omitempty"`
	// Artifact is the public URL or local path of the video.
	Artifact       string        `json:"artifact,omitempty"`
	Public         bool          `json:"public"`
	AudioSource    string        `json:"audioSource,omitempty"`
	Kind           Kind          `json:"kind,omitempty"`
	Message        string        `json:"message,omitempty"`
	WriteBackError string        `json:"writeBackError,omitempty"`
	Session        string        `json:"session,omitempty"`
	Duration       time.Duration `json:"durationNs"`
}

// Summary is the outcome of a batch.
type Summary struct {
	BatchID string `json:"batchId"`
	// ProcessedCount is the number of successful results.
	ProcessedCount int      `json:"processedCount"`
	Total          int      `json:"total"`
	Results        []Result `json:"results"`
	// Unknown lists selected rows with no matching guest.
	Unknown []int `json:"unknown,omitempty"`
}

// Coordinator runs batches.
type Coordinator struct {
	deps     Deps
	opts     Options
	reporter *Reporter
}

// NewCoordinator creates a Coordinator. Normalize defaults to
// imaging.NormalizeFile.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if deps.Normalize == nil {
		deps.Normalize = imaging.NormalizeFile
	}
	return &Coordinator{deps: deps, opts: opts, reporter: NewReporter(deps.Store)}
}

// RunBatch reads the guest list once, keeps the selected rows in the given
// order and processes them sequentially. An empty selection processes
// nothing. The only error returned is a failure to read the guest list.
func (c *Coordinator) RunBatch(ctx context.Context, selected []int) (*Summary, error) {
	start := time.Now()
	if len(selected) == 0 {
		log.Warn().Msg("No guests selected, nothing to do")
		return &Summary{BatchID: jobs.NewBatchID(start), Results: []Result{}}, nil
	}
	records, err := c.deps.Store.Guests(ctx)
	if err != nil {
		return nil, fmt.Errorf("read guests: %w", err)
	}

	guests, unknown := guest.Select(records, selected)
	for _, row := range unknown {
		log.Warn().Int("row", row).Msg("Selected guest not found, skipping")
	}

	summary := &Summary{
		BatchID: jobs.NewBatchID(start),
		Total:   len(guests),
		Results: make([]Result, 0, len(guests)),
		Unknown: unknown,
	}
	log.Info().
		Str("batchId", summary.BatchID).
		Int("selected", len(selected)).
		Int("guests", len(guests)).
		Bool("force", c.opts.Force).
		Msg("Batch started")

	for _, g := range guests {
		var res Result
		if err := ctx.Err(); err != nil {
			res = Result{Row: g.Row, Name: g.Name, Kind: KindCancelled, Message: "batch cancelled: " + err.Error()}
		} else {
			res = c.runGuest(ctx, g)
		}

		if res.Success {
			summary.ProcessedCount++
		}
		summary.Results = append(summary.Results, res)
		c.sink(ctx, summary.BatchID, res)
	}

	metrics.New().
		Property("batchId", summary.BatchID).
		Metric("BatchGuests", float64(summary.Total), metrics.UnitCount).
		Metric("BatchSucceeded", float64(summary.ProcessedCount), metrics.UnitCount).
		Since("BatchMs", start).
		Flush()
	log.Info().
		Str("batchId", summary.BatchID).
		Int("succeeded", summary.ProcessedCount).
		Int("total", summary.Total).
		Dur("elapsed", time.Since(start)).
		Msg("Batch complete")
	return summary, nil
}

// runGuest is the per-guest error boundary.
func (c *Coordinator) runGuest(ctx context.Context, g guest.Record) (res Result) {
	start := time.Now()
	logger := log.With().Int("row", g.Row).Str("guest", g.Name).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Guest pipeline panicked")
			res = c.fail(ctx, g, stageErr(KindInternal, "pipeline", fmt.Errorf("panic: %v", r)))
		}
		res.Duration = time.Since(start)
		metrics.New().
			Dimension("Outcome", outcome(res)).
			Since("GuestMs", start).
			Count("GuestResults").
			Flush()
	}()

	if g.HasVideo() && !c.opts.Force {
		logger.Info().Msg("Guest already has a video, skipping")
		return Result{Row: g.Row, Name: g.Name, Kind: KindSkipped, Artifact: g.VideoURL, Message: "already has a video"}
	}
	if c.opts.RequireBlessing && !blessingVisited(g.Status) {
		logger.Info().Str("status", g.Status).Msg("Blessing step not finished, skipping")
		return Result{Row: g.Row, Name: g.Name, Kind: KindSkipped, Message: fmt.Sprintf("blessing step not finished (status %q)", g.Status)}
	}

	logger.Info().Msg("Processing guest")
	res = c.process(ctx, g)
	if res.Success {
		logger.Info().Str("status", res.Status).Str("artifact", res.Artifact).Msg("Guest processed")
	} else {
		logger.Warn().Str("kind", string(res.Kind)).Str("message", res.Message).Msg("Guest failed")
	}
	return res
}

func (c *Coordinator) process(ctx context.Context, g guest.Record) Result {
	if _, err := fetch.ParseRef(g.PhotoURL); err != nil {
		return c.fail(ctx, g, stageErr(KindMissingPrecondition, "photo reference", err))
	}
	if err := c.deps.LipSync.Ready(); err != nil {
		return c.fail(ctx, g, stageErr(KindMissingPrecondition, "model checkpoint", err))
	}

	session, err := c.deps.Sessions.Acquire()
	if err != nil {
		return c.fail(ctx, g, stageErr(KindInternal, "workspace", err))
	}
	defer func() {
		if err := session.Release(); err != nil {
			log.Warn().Err(err).Str("session", session.Token).Msg("Failed to release session")
		}
	}()

	res, err := c.stages(ctx, g, session)
	if err != nil {
		out := c.fail(ctx, g, err)
		out.Session = session.Token
		return out
	}
	res.Session = session.Token
	return res
}

// stages runs audio → photo → normalize → lip-sync → publish → report.
func (c *Coordinator) stages(ctx context.Context, g guest.Record, s *workspace.Session) (Result, error) {
	t := time.Now()
	track, err := c.deps.Audio.Resolve(ctx, g.Blessing, g.AudioURL)
	if err != nil {
		kind := KindNoAudio
		if !errors.Is(err, audio.ErrNoAudioAvailable) {
			kind = KindInternal
		}
		return Result{}, stageErr(kind, "audio", err)
	}
	audioPath := s.AudioPath(track.Ext)
	if err := os.WriteFile(audioPath, track.Data, 0o644); err != nil {
		return Result{}, stageErr(KindInternal, "audio", fmt.Errorf("write audio: %w", err))
	}
	stageMetric("audio", t)

	t = time.Now()
	rawPhoto, _, err := c.deps.Fetcher.FetchTo(ctx, g.PhotoURL, s.Dir, s.Base("photo_raw_"), ".img")
	if err != nil {
		return Result{}, stageErr(KindFetch, "photo fetch", err)
	}
	stageMetric("photo_fetch", t)

	t = time.Now()
	if err := c.deps.Normalize(rawPhoto, s.PhotoPath()); err != nil {
		return Result{}, stageErr(KindDecode, "photo normalize", err)
	}
	stageMetric("normalize", t)

	t = time.Now()
	video, err := c.deps.LipSync.Synthesize(ctx, s.PhotoPath(), audioPath, s.VideoPath())
	if err != nil {
		kind := KindProcess
		if errors.Is(err, lipsync.ErrModelMissing) {
			kind = KindMissingPrecondition
		}
		return Result{}, stageErr(kind, "lip-sync", err)
	}
	stageMetric("lipsync", t)

	t = time.Now()
	art := c.deps.Publisher.Publish(ctx, video, videoName(g, s))
	stageMetric("publish", t)

	res := Result{
		Row:         g.Row,
		Name:        g.Name,
		Success:     true,
		Artifact:    art.Location(),
		Public:      art.Public,
		AudioSource: track.Source.String(),
		Status:      guest.StatusVideoGenerated,
	}
	if !art.Public {
		// The local file is the only copy.
		s.Retain()
	}
	if art.Degraded() {
		res.Status = guest.StatusVideoUploadFailed
		res.Kind = KindPublishDegraded
		res.Message = art.Err.Error()
	}

	if err := c.report(ctx, g.Row, res.Artifact, res.Status); err != nil {
		res.Status = ""
		res.WriteBackError = err.Error()
	}
	return res, nil
}

// fail builds a failed Result and reports video_failed with an empty
// artifact so the guest stays eligible for a rerun.
func (c *Coordinator) fail(ctx context.Context, g guest.Record, err error) Result {
	res := Result{
		Row:     g.Row,
		Name:    g.Name,
		Status:  guest.StatusVideoFailed,
		Kind:    KindOf(err),
		Message: err.Error(),
	}
	if werr := c.report(ctx, g.Row, "", guest.StatusVideoFailed); werr != nil {
		res.Status = ""
		res.WriteBackError = werr.Error()
	}
	return res
}

// report runs the write-back with its own recover, since it is also called
// from runGuest's recovery path where a second panic would escape the batch.
func (c *Coordinator) report(ctx context.Context, row int, artifact, status string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("row", row).Msg("Status write-back panicked")
			err = fmt.Errorf("%w: panic: %v", ErrWriteBack, r)
		}
	}()
	return c.reporter.Report(ctx, row, artifact, status)
}

func (c *Coordinator) sink(ctx context.Context, batchID string, res Result) {
	if c.deps.Sink == nil {
		return
	}
	ctx, cancel := guest.WriteContext(ctx)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Int("row", res.Row).Msg("Ledger write panicked")
		}
	}()
	if err := c.deps.Sink.Record(ctx, batchID, res); err != nil {
		log.Warn().Err(err).Int("row", res.Row).Msg("Failed to record result in ledger")
	}
}

func videoName(g guest.Record, s *workspace.Session) string {
	return fmt.Sprintf("%s_%s.mp4", safeName(g.DisplayName()), s.Token)
}

// safeName makes a guest name usable as an object key or file name: path
// separators and control characters become underscores.
func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	if strings.Trim(name, "._") == "" {
		return "guest"
	}
	return name
}

func blessingVisited(status string) bool {
	switch strings.TrimSpace(status) {
	case guest.StatusBlessingDone, guest.StatusBlessingFailed:
		return true
	}
	return false
}

func stageMetric(stage string, start time.Time) {
	metrics.New().Dimension("Stage", stage).Since("StageMs", start).Flush()
}

func outcome(r Result) string {
	switch {
	case r.Kind == KindSkipped:
		return "skipped"
	case r.Success && r.Public:
		return "published"
	case r.Success:
		return "local"
	default:
		return "failed"
	}
}
