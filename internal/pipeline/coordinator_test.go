package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fpang/guest-avatar/internal/audio"
	"github.com/fpang/guest-avatar/internal/fetch"
	"github.com/fpang/guest-avatar/internal/guest"
	"github.com/fpang/guest-avatar/internal/jobs"
	"github.com/fpang/guest-avatar/internal/lipsync"
	"github.com/fpang/guest-avatar/internal/metrics"
	"github.com/fpang/guest-avatar/internal/publish"
	"github.com/fpang/guest-avatar/internal/workspace"
)

func TestMain(m *testing.M) {
	metrics.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const (
	photoRef = "https://photos.example.com/alice.png"
	audioRef = "https://audio.example.com/alice.m4a"
)

// fakeSynth stands in for the speech service.
type fakeSynth struct {
	err   error
	calls int
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return []byte("RIFF-ai-" + text), nil
}

// fakeFetcher serves both audio.Fetcher and AssetFetcher.
type fakeFetcher struct {
	fail    map[string]error
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (*fetch.Asset, error) {
	f.fetched = append(f.fetched, ref)
	if err := f.fail[ref]; err != nil {
		return nil, err
	}
	return &fetch.Asset{Data: []byte("data:" + ref), Ext: filepath.Ext(ref)}, nil
}

func (f *fakeFetcher) FetchTo(ctx context.Context, ref, dir, base, fallbackExt string) (string, *fetch.Asset, error) {
	asset, err := f.Fetch(ctx, ref)
	if err != nil {
		return "", nil, err
	}
	p := filepath.Join(dir, base+asset.Ext)
	if err := os.WriteFile(p, asset.Data, 0o644); err != nil {
		return "", nil, err
	}
	return p, asset, nil
}

func (f *fakeFetcher) count(ref string) int {
	n := 0
	for _, r := range f.fetched {
		if r == ref {
			n++
		}
	}
	return n
}

type fakeLipSync struct {
	readyErr error
	err      error
	calls    int
	audio    []string
}

func (l *fakeLipSync) Ready() error { return l.readyErr }

func (l *fakeLipSync) Synthesize(ctx context.Context, face, audioPath, out string) (string, error) {
	l.calls++
	l.audio = append(l.audio, audioPath)
	if l.err != nil {
		return "", l.err
	}
	if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeUploader struct {
	uploadErr error
	grantErr  error
	uploads   int
}

func (u *fakeUploader) Upload(ctx context.Context, path, name, mime string) (string, string, error) {
	u.uploads++
	if u.uploadErr != nil {
		return "", "", u.uploadErr
	}
	return "obj-" + name, "https://cdn.example.com/" + name, nil
}

func (u *fakeUploader) GrantPublicRead(ctx context.Context, id string) error {
	return u.grantErr
}

type countingPublisher struct {
	inner *publish.Publisher
	calls int
}

func (p *countingPublisher) Publish(ctx context.Context, localPath, name string) publish.Artifact {
	p.calls++
	return p.inner.Publish(ctx, localPath, name)
}

type memorySink struct {
	results []Result
}

func (s *memorySink) Record(ctx context.Context, batchID string, r Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.results = append(s.results, r)
	return nil
}

type harness struct {
	store      *guest.MemoryStore
	synth      *fakeSynth
	fetcher    *fakeFetcher
	normalized int
	lipsync    *fakeLipSync
	uploader   *fakeUploader
	publisher  *countingPublisher
	sink       *memorySink
	root       string
	deps       Deps
}

func newHarness(t *testing.T, destination string, records ...guest.Record) *harness {
	t.Helper()
	h := &harness{
		store:    guest.NewMemoryStore(records...),
		synth:    &fakeSynth{},
		fetcher:  &fakeFetcher{fail: map[string]error{}},
		lipsync:  &fakeLipSync{},
		uploader: &fakeUploader{},
		sink:     &memorySink{},
		root:     t.TempDir(),
	}
	h.publisher = &countingPublisher{inner: publish.New(h.uploader, destination)}
	h.deps = Deps{
		Store:   h.store,
		Audio:   audio.NewResolver(h.synth, h.fetcher),
		Fetcher: h.fetcher,
		Normalize: func(src, dst string) error {
			h.normalized++
			data, err := os.ReadFile(src)
			if err != nil {
				return err
			}
			return os.WriteFile(dst, data, 0o644)
		},
		LipSync:   h.lipsync,
		Publisher: h.publisher,
		Sessions:  workspace.New(h.root, false),
		Sink:      h.sink,
	}
	return h
}

// run processes rows, or every stored guest when none are given.
func (h *harness) run(t *testing.T, force bool, rows ...int) *Summary {
	t.Helper()
	if len(rows) == 0 {
		records, _ := h.store.Guests(context.Background())
		rows = guest.AllRows(records)
	}
	summary, err := NewCoordinator(h.deps, Options{Force: force}).RunBatch(context.Background(), rows)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	return summary
}

func alice() guest.Record {
	return guest.Record{Name: "Alice", Blessing: "Happy wedding!", PhotoURL: photoRef}
}

func assertCounts(t *testing.T, s *Summary) {
	t.Helper()
	ok := 0
	for _, r := range s.Results {
		if r.Success {
			ok++
		}
	}
	if s.ProcessedCount != ok {
		t.Errorf("ProcessedCount = %d, want %d", s.ProcessedCount, ok)
	}
}

func TestScenarioPublished(t *testing.T) {
	h := newHarness(t, "folder-1", alice())
	s := h.run(t, false)
	assertCounts(t, s)
	if _, err := jobs.ParseBatchID(s.BatchID); err != nil {
		t.Errorf("batch ID: %v", err)
	}

	r := s.Results[0]
	if !r.Success || !r.Public || r.Status != guest.StatusVideoGenerated {
		t.Fatalf("result = %+v", r)
	}
	if !strings.HasPrefix(r.Artifact, "https://cdn.example.com/Alice_") {
		t.Errorf("artifact = %q", r.Artifact)
	}
	if r.AudioSource != "ai_generated" {
		t.Errorf("audio source = %q", r.AudioSource)
	}
	rec := h.store.Record(0)
	if rec.VideoURL != r.Artifact || rec.Status != guest.StatusVideoGenerated {
		t.Errorf("written back %+v", rec)
	}
	if h.publisher.calls != 1 || h.uploader.uploads != 1 {
		t.Errorf("publish calls = %d, uploads = %d", h.publisher.calls, h.uploader.uploads)
	}
	// Published sessions are cleaned up.
	entries, _ := os.ReadDir(h.root)
	for _, e := range entries {
		if e.IsDir() {
			t.Errorf("session dir %s left behind", e.Name())
		}
	}
	if len(h.sink.results) != 1 {
		t.Errorf("sink got %d results", len(h.sink.results))
	}
}

func TestScenarioSynthesisFallsBackToUpload(t *testing.T) {
	g := alice()
	g.AudioURL = audioRef
	h := newHarness(t, "folder-1", g)
	h.synth.err = errors.New("tts 500")

	r := h.run(t, false).Results[0]
	if !r.Success || r.AudioSource != "uploaded" {
		t.Fatalf("result = %+v", r)
	}
	if h.synth.calls != 1 || h.fetcher.count(audioRef) != 1 {
		t.Errorf("synth calls = %d, upload fetches = %d", h.synth.calls, h.fetcher.count(audioRef))
	}
	if got := filepath.Ext(h.lipsync.audio[0]); got != ".m4a" {
		t.Errorf("lip-sync audio ext = %q", got)
	}
}

func TestScenarioNoAudio(t *testing.T) {
	h := newHarness(t, "folder-1", alice())
	h.synth.err = errors.New("quota exhausted")

	r := h.run(t, false).Results[0]
	if r.Success || r.Kind != KindNoAudio || r.Status != guest.StatusVideoFailed {
		t.Fatalf("result = %+v", r)
	}
	if h.lipsync.calls != 0 || h.publisher.calls != 0 {
		t.Errorf("lip-sync calls = %d, publish calls = %d", h.lipsync.calls, h.publisher.calls)
	}
	rec := h.store.Record(0)
	if rec.Status != guest.StatusVideoFailed || rec.VideoURL != "" {
		t.Errorf("written back %+v", rec)
	}
}

func TestScenarioNoDestinationKeepsLocal(t *testing.T) {
	h := newHarness(t, "", alice())

	r := h.run(t, false).Results[0]
	if !r.Success || r.Public || r.Status != guest.StatusVideoGenerated || r.Kind != KindNone {
		t.Fatalf("result = %+v", r)
	}
	if h.uploader.uploads != 0 {
		t.Errorf("uploads = %d, want 0", h.uploader.uploads)
	}
	if _, err := os.Stat(r.Artifact); err != nil {
		t.Errorf("local artifact %q missing: %v", r.Artifact, err)
	}
	if h.store.Record(0).VideoURL != r.Artifact {
		t.Errorf("video_url = %q", h.store.Record(0).VideoURL)
	}
}

func TestScenarioCheckpointMissing(t *testing.T) {
	h := newHarness(t, "folder-1", alice(), guest.Record{Name: "Bob", Blessing: "Cheers", PhotoURL: photoRef})
	h.lipsync.readyErr = fmt.Errorf("%w: /models/wav2lip.pth", lipsync.ErrModelMissing)

	s := h.run(t, false)
	assertCounts(t, s)
	for _, r := range s.Results {
		if r.Success || r.Kind != KindMissingPrecondition || r.Status != guest.StatusVideoFailed {
			t.Errorf("result = %+v", r)
		}
		if r.Message != s.Results[0].Message {
			t.Errorf("messages differ: %q vs %q", r.Message, s.Results[0].Message)
		}
	}
	if h.synth.calls != 0 || len(h.fetcher.fetched) != 0 || h.normalized != 0 {
		t.Errorf("stages ran: synth=%d fetch=%d normalize=%d", h.synth.calls, len(h.fetcher.fetched), h.normalized)
	}
}

func TestUploadFailureDegrades(t *testing.T) {
	tests := []struct {
		name      string
		uploadErr error
		grantErr  error
	}{
		{"upload", errors.New("403 storage quota"), nil},
		{"grant", nil, errors.New("permission denied")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "folder-1", alice())
			h.uploader.uploadErr = tt.uploadErr
			h.uploader.grantErr = tt.grantErr

			r := h.run(t, false).Results[0]
			if !r.Success || r.Public || r.Kind != KindPublishDegraded || r.Status != guest.StatusVideoUploadFailed {
				t.Fatalf("result = %+v", r)
			}
			if _, err := os.Stat(r.Artifact); err != nil {
				t.Errorf("retained artifact missing: %v", err)
			}
			if h.store.Record(0).Status != guest.StatusVideoUploadFailed {
				t.Errorf("status = %q", h.store.Record(0).Status)
			}
		})
	}
}

func TestInvalidPhotoSkipsStages(t *testing.T) {
	refs := []string{"", "drive-file-id", "ftp://photos.example.com/a.png", "/local/a.png"}
	for _, ref := range refs {
		t.Run(ref, func(t *testing.T) {
			g := alice()
			g.PhotoURL = ref
			h := newHarness(t, "folder-1", g)

			r := h.run(t, false).Results[0]
			if r.Kind != KindMissingPrecondition || r.Status != guest.StatusVideoFailed {
				t.Fatalf("result = %+v", r)
			}
			if h.synth.calls != 0 || h.normalized != 0 || h.lipsync.calls != 0 {
				t.Errorf("stages ran: synth=%d normalize=%d lipsync=%d", h.synth.calls, h.normalized, h.lipsync.calls)
			}
		})
	}
}

func TestAISuccessNeverFetchesUpload(t *testing.T) {
	g := alice()
	g.AudioURL = audioRef
	h := newHarness(t, "folder-1", g)

	r := h.run(t, false).Results[0]
	if !r.Success || r.AudioSource != "ai_generated" {
		t.Fatalf("result = %+v", r)
	}
	if n := h.fetcher.count(audioRef); n != 0 {
		t.Errorf("uploaded audio fetched %d times", n)
	}
}

func TestStageFailures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(h *harness)
		wantKind Kind
	}{
		{"photo fetch", func(h *harness) {
			h.fetcher.fail[photoRef] = &fetch.StatusError{URL: photoRef, StatusCode: 429}
		}, KindFetch},
		{"normalize", func(h *harness) {
			h.deps.Normalize = func(src, dst string) error { return errors.New("corrupt image") }
		}, KindDecode},
		{"lip-sync", func(h *harness) {
			h.lipsync.err = &lipsync.ProcessError{ExitCode: 1, Stderr: "CUDA out of memory"}
		}, KindProcess},
		{"panic", func(h *harness) {
			h.deps.Normalize = func(src, dst string) error { panic("boom") }
		}, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "folder-1", alice(), guest.Record{Name: "Bob", Blessing: "Cheers", PhotoURL: "https://photos.example.com/bob.png"})
			tt.setup(h)

			s := h.run(t, false)
			assertCounts(t, s)
			if len(s.Results) != 2 {
				t.Fatalf("results = %d, want 2", len(s.Results))
			}
			r := s.Results[0]
			if r.Success || r.Kind != tt.wantKind || r.Status != guest.StatusVideoFailed {
				t.Errorf("result = %+v", r)
			}
			if h.store.Record(0).Status != guest.StatusVideoFailed {
				t.Errorf("status = %q", h.store.Record(0).Status)
			}
			if tt.wantKind != KindProcess && h.publisher.calls > 1 {
				t.Errorf("publish calls = %d", h.publisher.calls)
			}
			if tt.wantKind == KindProcess && h.publisher.calls != 0 {
				t.Errorf("publisher invoked after lip-sync failure")
			}
		})
	}
}

func TestSelectionAndSkips(t *testing.T) {
	done := alice()
	done.VideoURL = "https://cdn.example.com/old.mp4"
	h := newHarness(t, "folder-1", alice(), done, alice())

	s := h.run(t, false, 2, 1, 7)
	assertCounts(t, s)
	if len(s.Results) != 2 || s.Results[0].Row != 2 || s.Results[1].Row != 1 {
		t.Fatalf("results = %+v", s.Results)
	}
	if s.Results[1].Kind != KindSkipped || s.Results[1].Success {
		t.Errorf("skip result = %+v", s.Results[1])
	}
	if len(s.Unknown) != 1 || s.Unknown[0] != 7 {
		t.Errorf("unknown = %v", s.Unknown)
	}
	for _, w := range h.store.Writes() {
		if w.Row == 1 || w.Row == 0 {
			t.Errorf("unexpected write %+v", w)
		}
	}

	forced := h.run(t, true, 1)
	if !forced.Results[0].Success {
		t.Errorf("forced result = %+v", forced.Results[0])
	}
}

func TestCancelledBatch(t *testing.T) {
	h := newHarness(t, "folder-1", alice(), alice())
	ctx, cancel := context.WithCancel(context.Background())
	// The first guest cancels the batch from inside lip-sync.
	h.deps.LipSync = &cancellingLipSync{fakeLipSync: h.lipsync, cancel: cancel}

	s, err := NewCoordinator(h.deps, Options{}).RunBatch(ctx, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Results) != 2 {
		t.Fatalf("results = %d", len(s.Results))
	}
	// The guest that was running when the batch ended still gets its outcome.
	if r := s.Results[0]; r.Status != guest.StatusVideoGenerated || r.WriteBackError != "" {
		t.Errorf("first result = %+v", r)
	}
	if rec := h.store.Record(0); rec.Status != guest.StatusVideoGenerated || rec.VideoURL == "" {
		t.Errorf("first guest written back as %+v", rec)
	}
	if s.Results[1].Kind != KindCancelled || s.Results[1].Status != "" {
		t.Errorf("second result = %+v", s.Results[1])
	}
	if h.lipsync.calls != 1 {
		t.Errorf("lip-sync calls = %d, want 1", h.lipsync.calls)
	}
	if len(h.sink.results) != 2 {
		t.Errorf("ledger got %d results, want 2", len(h.sink.results))
	}
}

type cancellingLipSync struct {
	*fakeLipSync
	cancel context.CancelFunc
	// kill makes the run fail the way an interrupted subprocess does.
	kill bool
}

func (l *cancellingLipSync) Synthesize(ctx context.Context, face, audioPath, out string) (string, error) {
	defer l.cancel()
	if l.kill {
		l.calls++
		return "", &lipsync.ProcessError{ExitCode: -1, Stderr: "signal: killed"}
	}
	return l.fakeLipSync.Synthesize(ctx, face, audioPath, out)
}

func TestCancelledMidGuestReportsFailure(t *testing.T) {
	h := newHarness(t, "folder-1", alice())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.deps.LipSync = &cancellingLipSync{fakeLipSync: h.lipsync, cancel: cancel, kill: true}

	s, err := NewCoordinator(h.deps, Options{}).RunBatch(ctx, []int{0})
	if err != nil {
		t.Fatal(err)
	}
	r := s.Results[0]
	if r.Success || r.Kind != KindProcess || r.Status != guest.StatusVideoFailed || r.WriteBackError != "" {
		t.Errorf("result = %+v", r)
	}
	want := []guest.Write{
		{Row: 0, Field: guest.FieldVideoURL, Value: ""},
		{Row: 0, Field: guest.FieldStatus, Value: guest.StatusVideoFailed},
	}
	writes := h.store.Writes()
	if len(writes) != len(want) || writes[0] != want[0] || writes[1] != want[1] {
		t.Errorf("writes = %+v, want %+v", writes, want)
	}
}

func TestEmptySelectionProcessesNothing(t *testing.T) {
	h := newHarness(t, "folder-1", alice(), alice(), alice())
	for _, rows := range [][]int{nil, {}} {
		s, err := NewCoordinator(h.deps, Options{Force: true}).RunBatch(context.Background(), rows)
		if err != nil {
			t.Fatal(err)
		}
		if len(s.Results) != 0 || s.Total != 0 || s.ProcessedCount != 0 || s.BatchID == "" {
			t.Errorf("RunBatch(%v) = %+v, want an empty summary", rows, s)
		}
	}
	if h.lipsync.calls != 0 || h.synth.calls != 0 || len(h.store.Writes()) != 0 || len(h.sink.results) != 0 {
		t.Errorf("lip-sync = %d, synth = %d, writes = %+v, sink = %d",
			h.lipsync.calls, h.synth.calls, h.store.Writes(), len(h.sink.results))
	}
}

func TestVideoNameIsSanitized(t *testing.T) {
	g := alice()
	g.Name = "Bob/Lee\\\tJr"
	h := newHarness(t, "folder-1", g)

	r := h.run(t, false).Results[0]
	name, ok := strings.CutPrefix(r.Artifact, "https://cdn.example.com/")
	if !ok || !strings.HasPrefix(name, "Bob_Lee__Jr_") || !strings.HasSuffix(name, ".mp4") {
		t.Fatalf("artifact = %q", r.Artifact)
	}
	if strings.ContainsAny(name, "/\\\t") {
		t.Errorf("object name %q still has separators", name)
	}
}

func TestSafeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"王小明", "王小明"},
		{"a/b", "a_b"},
		{"x\ny", "x_y"},
		{"../..", "guest"},
		{"/", "guest"},
		{"\x00\r", "guest"},
	}
	for _, tt := range tests {
		if got := safeName(tt.in); got != tt.want {
			t.Errorf("safeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequireBlessingSkipsUnvisitedGuests(t *testing.T) {
	pending := alice()
	done := alice()
	done.Status = guest.StatusBlessingDone
	failed := alice()
	failed.Status = guest.StatusBlessingFailed
	h := newHarness(t, "folder-1", pending, done, failed)

	s, err := NewCoordinator(h.deps, Options{RequireBlessing: true}).RunBatch(context.Background(), []int{0, 1, 2})
	if err != nil {
		t.Fatal(err)
	}
	if s.Results[0].Kind != KindSkipped || s.Results[0].Success {
		t.Errorf("pending guest = %+v", s.Results[0])
	}
	if !s.Results[1].Success || !s.Results[2].Success {
		t.Errorf("visited guests = %+v, %+v", s.Results[1], s.Results[2])
	}
	for _, w := range h.store.Writes() {
		if w.Row == 0 {
			t.Errorf("unexpected write for pending guest: %+v", w)
		}
	}
}

type failingStore struct {
	*guest.MemoryStore
	readErr  error
	writeErr error
}

func (s *failingStore) Guests(ctx context.Context) ([]guest.Record, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.MemoryStore.Guests(ctx)
}

func (s *failingStore) WriteField(ctx context.Context, row int, field, value string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	return s.MemoryStore.WriteField(ctx, row, field, value)
}

func TestGuestReadFailure(t *testing.T) {
	h := newHarness(t, "folder-1")
	h.deps.Store = &failingStore{MemoryStore: h.store, readErr: errors.New("sheets 503")}

	if _, err := NewCoordinator(h.deps, Options{}).RunBatch(context.Background(), []int{0}); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteBackFailureIsRecorded(t *testing.T) {
	h := newHarness(t, "folder-1", alice())
	h.deps.Store = &failingStore{MemoryStore: h.store, writeErr: errors.New("sheets 403")}

	s, err := NewCoordinator(h.deps, Options{}).RunBatch(context.Background(), []int{0})
	if err != nil {
		t.Fatal(err)
	}
	r := s.Results[0]
	if !r.Success || r.WriteBackError == "" || r.Status != "" {
		t.Errorf("result = %+v", r)
	}
}

func TestReporterWritesBothFields(t *testing.T) {
	store := guest.NewMemoryStore(alice())
	if err := NewReporter(store).Report(context.Background(), 0, "https://x/v.mp4", guest.StatusVideoGenerated); err != nil {
		t.Fatal(err)
	}
	writes := store.Writes()
	want := []guest.Write{
		{Row: 0, Field: guest.FieldVideoURL, Value: "https://x/v.mp4"},
		{Row: 0, Field: guest.FieldStatus, Value: guest.StatusVideoGenerated},
	}
	if len(writes) != len(want) {
		t.Fatalf("writes = %+v", writes)
	}
	for i := range want {
		if writes[i] != want[i] {
			t.Errorf("write %d = %+v, want %+v", i, writes[i], want[i])
		}
	}

	err := NewReporter(store).Report(context.Background(), 9, "", guest.StatusVideoFailed)
	if !errors.Is(err, ErrWriteBack) || KindOf(err) != KindWriteBack {
		t.Errorf("err = %v, kind = %q", err, KindOf(err))
	}
}

func TestDegradedGuestIsRetried(t *testing.T) {
	h := newHarness(t, "folder-1", alice())
	h.uploader.uploadErr = errors.New("503 backend error")

	first := h.run(t, false).Results[0]
	if first.Status != guest.StatusVideoUploadFailed || first.Public {
		t.Fatalf("first run = %+v", first)
	}
	if h.store.Record(0).VideoURL != first.Artifact {
		t.Fatalf("video_url = %q, want local path %q", h.store.Record(0).VideoURL, first.Artifact)
	}

	h.uploader.uploadErr = nil
	second := h.run(t, false).Results[0]
	if second.Kind == KindSkipped || !second.Public || second.Status != guest.StatusVideoGenerated {
		t.Fatalf("second run = %+v", second)
	}
	if h.uploader.uploads != 2 {
		t.Errorf("uploads = %d, want 2", h.uploader.uploads)
	}
	if rec := h.store.Record(0); rec.VideoURL != second.Artifact || rec.Status != guest.StatusVideoGenerated {
		t.Errorf("written back %+v", rec)
	}

	third := h.run(t, false).Results[0]
	if third.Kind != KindSkipped {
		t.Errorf("published guest not skipped: %+v", third)
	}
}

// panickingStore panics on every write for one row.
type panickingStore struct {
	*guest.MemoryStore
	row int
}

func (s *panickingStore) WriteField(ctx context.Context, row int, field, value string) error {
	if row == s.row {
		panic("sheet client exploded")
	}
	return s.MemoryStore.WriteField(ctx, row, field, value)
}

func TestWriteBackPanicIsContained(t *testing.T) {
	tests := []struct {
		name           string
		photo          string
		panicNormalize bool
	}{
		{name: "failure write-back", photo: "not-a-url"},
		{name: "write-back after pipeline panic", photo: photoRef, panicNormalize: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := alice()
			bad.PhotoURL = tt.photo
			h := newHarness(t, "folder-1", bad, guest.Record{Name: "Bob", Blessing: "Cheers", PhotoURL: photoRef})
			if tt.panicNormalize {
				h.deps.Normalize = func(src, dst string) error { panic("boom") }
			}
			h.deps.Store = &panickingStore{MemoryStore: h.store, row: 0}

			var s *Summary
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("panic escaped RunBatch: %v", r)
					}
				}()
				var err error
				s, err = NewCoordinator(h.deps, Options{}).RunBatch(context.Background(), []int{0, 1})
				if err != nil {
					t.Fatal(err)
				}
			}()

			if len(s.Results) != 2 {
				t.Fatalf("results = %d, want 2", len(s.Results))
			}
			r := s.Results[0]
			if r.Success || r.Status != "" || !strings.Contains(r.WriteBackError, "panic") {
				t.Errorf("first result = %+v", r)
			}
			if s.Results[1].Row != 1 || s.Results[1].Kind == KindCancelled {
				t.Errorf("second guest not processed: %+v", s.Results[1])
			}
			if got := h.store.Record(1).Status; got == "" {
				t.Error("second guest got no status written")
			}
		})
	}
}
