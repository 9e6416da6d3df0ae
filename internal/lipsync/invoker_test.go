package lipsync

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fpang/guest-avatar/internal/metrics"
)

// quietLogs raises the global level so bulk stream tests do not flood the
// test output.
func quietLogs(t *testing.T) {
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })
}

// fixture lays out a fake Wav2Lip directory with a shell script standing
// in for inference.py.
type fixture struct {
	dir        string
	script     string
	checkpoint string
	face       string
	audio      string
	out        string
}

func newFixture(t *testing.T, body string) *fixture {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script stand-in requires a unix shell")
	}
	metrics.SetOutput(io.Discard)
	t.Cleanup(func() { metrics.SetOutput(nil) })

	root := t.TempDir()
	f := &fixture{
		dir:        filepath.Join(root, "Wav2Lip-master"),
		checkpoint: filepath.Join(root, "Wav2Lip-master", "checkpoints", "wav2lip_gan.pth"),
		face:       filepath.Join(root, "session", "photo.jpg"),
		audio:      filepath.Join(root, "session", "audio.wav"),
		out:        filepath.Join(root, "session", "video.mp4"),
	}
	f.script = filepath.Join(f.dir, "inference.py")

	for _, d := range []string{filepath.Dir(f.checkpoint), filepath.Dir(f.face)} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	script := `
out=""
while [ $# -gt 0 ]; do
  if [ "$1" = "--outfile" ]; then out="$2"; fi
  shift
done
` + body
	if err := os.WriteFile(f.script, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{f.checkpoint, f.face, f.audio} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return f
}

func (f *fixture) invoker(timeout time.Duration) *Invoker {
	return New(Options{
		Python:       "/bin/sh",
		Script:       f.script,
		Checkpoint:   f.checkpoint,
		ResizeFactor: 2,
		Timeout:      timeout,
	})
}

func TestSynthesizeSuccess(t *testing.T) {
	f := newFixture(t, `
pwd > "$(dirname "$out")/cwd.txt"
echo "progress 1"
printf 'frame 1\rframe 2\r' >&2
echo "video" > "$out"
`)
	got, err := f.invoker(0).Synthesize(context.Background(), f.face, f.audio, f.out)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if got != f.out {
		t.Errorf("path = %q, want %q", got, f.out)
	}
	cwd, err := os.ReadFile(filepath.Join(filepath.Dir(f.out), "cwd.txt"))
	if err != nil {
		t.Fatal(err)
	}
	wantDir, _ := filepath.EvalSymlinks(f.dir)
	gotDir, _ := filepath.EvalSymlinks(strings.TrimSpace(string(cwd)))
	if gotDir != wantDir {
		t.Errorf("working dir = %q, want %q", gotDir, wantDir)
	}
}

func TestSynthesizeArgs(t *testing.T) {
	f := newFixture(t, "")
	args := f.invoker(0).Args(f.face, f.audio, f.out)

	want := []string{
		filepath.ToSlash(f.script),
		"--checkpoint_path", filepath.ToSlash(f.checkpoint),
		"--face", filepath.ToSlash(f.face),
		"--audio", filepath.ToSlash(f.audio),
		"--outfile", filepath.ToSlash(f.out),
		"--resize_factor", "2",
	}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v\nwant %v", args, want)
	}
	for _, a := range args {
		if strings.Contains(a, `\`) {
			t.Errorf("arg %q contains a backslash", a)
		}
	}
}

func TestSynthesizeNonZeroExit(t *testing.T) {
	f := newFixture(t, `
echo "loading model"
echo "RuntimeError: CUDA out of memory" >&2
exit 3
`)
	_, err := f.invoker(0).Synthesize(context.Background(), f.face, f.audio, f.out)

	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want *ProcessError", err)
	}
	if perr.ExitCode != 3 || perr.TimedOut {
		t.Errorf("process error = %+v", perr)
	}
	if !strings.Contains(perr.Stderr, "CUDA out of memory") {
		t.Errorf("stderr = %q, want captured message", perr.Stderr)
	}
	if strings.Contains(perr.Stderr, "loading model") {
		t.Error("stdout leaked into stderr capture")
	}
	if !strings.Contains(perr.Stdout, "loading model") {
		t.Errorf("stdout = %q, want captured progress", perr.Stdout)
	}
}

func TestSynthesizeModelMissing(t *testing.T) {
	f := newFixture(t, `touch "$(dirname "$out")/spawned"`)
	os.Remove(f.checkpoint)

	_, err := f.invoker(0).Synthesize(context.Background(), f.face, f.audio, f.out)
	if !errors.Is(err, ErrModelMissing) {
		t.Fatalf("err = %v, want ErrModelMissing", err)
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(f.out), "spawned")); statErr == nil {
		t.Error("process was spawned despite missing checkpoint")
	}
}

func TestSynthesizeOutputMissing(t *testing.T) {
	f := newFixture(t, `exit 0`)
	_, err := f.invoker(0).Synthesize(context.Background(), f.face, f.audio, f.out)
	if !errors.Is(err, ErrOutputMissing) {
		t.Errorf("err = %v, want ErrOutputMissing", err)
	}
}

func TestSynthesizeLaunchError(t *testing.T) {
	f := newFixture(t, "")
	inv := New(Options{
		Python:     filepath.Join(t.TempDir(), "no-such-python"),
		Script:     f.script,
		Checkpoint: f.checkpoint,
	})
	_, err := inv.Synthesize(context.Background(), f.face, f.audio, f.out)

	var lerr *LaunchError
	if !errors.As(err, &lerr) {
		t.Fatalf("err = %v, want *LaunchError", err)
	}
	var perr *ProcessError
	if errors.As(err, &perr) {
		t.Error("launch failure must not be reported as a process failure")
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	f := newFixture(t, `
sleep 30 &
wait
echo done > "$out"
`)
	start := time.Now()
	_, err := f.invoker(300*time.Millisecond).Synthesize(context.Background(), f.face, f.audio, f.out)

	var perr *ProcessError
	if !errors.As(err, &perr) || !perr.TimedOut {
		t.Fatalf("err = %v, want timed-out *ProcessError", err)
	}
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("timeout took %v, process group was not killed promptly", elapsed)
	}
}

func TestLineLogger(t *testing.T) {
	l := newLineLogger("stderr", func() int { return 1 })
	l.Write([]byte("partial"))
	l.Write([]byte(" line\nnext\r"))
	l.Write([]byte("tail"))
	l.flush()

	if got := l.String(); got != "partial line\nnext\rtail" {
		t.Errorf("captured = %q", got)
	}
	if len(l.partial) != 0 {
		t.Errorf("partial not flushed: %q", l.partial)
	}
}

func TestLineLoggerKeepsTail(t *testing.T) {
	quietLogs(t)
	l := newLineLogger("stderr", func() int { return 1 })
	chunk := strings.Repeat("x", 4096) + "\n"
	for l.Dropped() == 0 {
		l.Write([]byte(chunk))
	}
	l.Write([]byte("Traceback: CUDA out of memory\n"))

	got := l.String()
	if len(got) != maxCapture {
		t.Errorf("captured %d bytes, want %d", len(got), maxCapture)
	}
	if !strings.HasSuffix(got, "Traceback: CUDA out of memory\n") {
		t.Errorf("tail lost: %q", got[len(got)-64:])
	}
}

func TestLineLoggerBoundsUnterminatedLine(t *testing.T) {
	quietLogs(t)
	l := newLineLogger("stdout", func() int { return 1 })
	l.Write([]byte(strings.Repeat("#", 3*maxLine+10)))
	if len(l.partial) >= maxLine {
		t.Errorf("partial line grew to %d bytes", len(l.partial))
	}
	l.flush()
	if len(l.partial) != 0 {
		t.Errorf("partial not flushed: %d bytes", len(l.partial))
	}
}

func TestSynthesizeFailureRemovesPartialOutput(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		timeout time.Duration
	}{
		{"non-zero exit", `printf 'mdat' > "$out"; exit 1`, 0},
		{"empty output", `: > "$out"`, 0},
		{"timeout", `printf 'mdat' > "$out"; sleep 30 & wait`, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.body)
			if _, err := f.invoker(tt.timeout).Synthesize(context.Background(), f.face, f.audio, f.out); err == nil {
				t.Fatal("expected error")
			}
			if _, err := os.Stat(f.out); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("partial output left behind: stat err = %v", err)
			}
		})
	}
}
