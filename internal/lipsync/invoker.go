// Package lipsync drives the Wav2Lip inference script as a blocking
// subprocess. Exit code 0 with an output file present is the only success.
package lipsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/metrics"
)

// waitDelay bounds how long Wait blocks on output pipes after the process
// has been killed.
const waitDelay = 10 * time.Second

// Options configure an Invoker.
type Options struct {
	// Python is the interpreter. Empty runs Script directly.
	Python string
	// Script is the inference entry point; its directory is the working
	// directory of the process.
	Script     string
	Checkpoint string
	// ResizeFactor downscales the output video resolution.
	ResizeFactor int
	// Timeout bounds one invocation; zero disables it.
	Timeout time.Duration
}

// Invoker runs lip-sync synthesis.
type Invoker struct {
	opts Options
}

// New creates an Invoker.
func New(opts Options) *Invoker {
	if opts.ResizeFactor < 1 {
		opts.ResizeFactor = 1
	}
	return &Invoker{opts: opts}
}

// Ready checks that the checkpoint file exists.
func (i *Invoker) Ready() error {
	info, err := os.Stat(i.opts.Checkpoint)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrModelMissing, i.opts.Checkpoint)
	}
	return nil
}

// Args returns the command line for one invocation, excluding the
// interpreter. Paths are made absolute, since the process runs in the
// script directory, and use forward slashes.
func (i *Invoker) Args(facePath, audioPath, outPath string) []string {
	return []string{
		slashPath(i.opts.Script),
		"--checkpoint_path", slashPath(i.opts.Checkpoint),
		"--face", slashPath(facePath),
		"--audio", slashPath(audioPath),
		"--outfile", slashPath(outPath),
		"--resize_factor", strconv.Itoa(i.opts.ResizeFactor),
	}
}

func slashPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.ToSlash(p)
}

// Synthesize animates the face at facePath to audioPath and writes the video
// to outPath, returning outPath. It blocks until the process exits.
func (i *Invoker) Synthesize(ctx context.Context, facePath, audioPath, outPath string) (string, error) {
	if err := i.Ready(); err != nil {
		return "", err
	}

	runCtx := ctx
	if i.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, i.opts.Timeout)
		defer cancel()
	}

	name, args := i.command(facePath, audioPath, outPath)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = filepath.Dir(i.opts.Script)
	cmd.WaitDelay = waitDelay
	killProcessGroup(cmd)

	pid := func() int {
		if cmd.Process == nil {
			return 0
		}
		return cmd.Process.Pid
	}
	stdout := newLineLogger("stdout", pid)
	stderr := newLineLogger("stderr", pid)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	log.Info().
		Str("face", filepath.Base(facePath)).
		Str("audio", filepath.Base(audioPath)).
		Int("resizeFactor", i.opts.ResizeFactor).
		Dur("timeout", i.opts.Timeout).
		Msg("Starting lip-sync synthesis")
	log.Debug().Str("cmd", name).Strs("args", args).Str("dir", cmd.Dir).Msg("Lip-sync command")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &LaunchError{Path: name, Err: err}
	}
	err := cmd.Wait()
	stdout.flush()
	stderr.flush()
	elapsed := time.Since(start)

	if err != nil {
		var perr *ProcessError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			perr = &ProcessError{ExitCode: -1, TimedOut: true}
		case ctx.Err() != nil:
			i.record("cancelled", elapsed)
			removePartial(outPath)
			return "", fmt.Errorf("lip-sync cancelled: %w", ctx.Err())
		default:
			code := -1
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				code = exitErr.ExitCode()
			}
			perr = &ProcessError{ExitCode: code}
		}
		perr.Stderr = stderr.String()
		perr.Stdout = stdout.String()
		perr.StderrDropped = stderr.Dropped()
		i.record("failed", elapsed)
		removePartial(outPath)
		log.Warn().
			Int("exitCode", perr.ExitCode).
			Bool("timedOut", perr.TimedOut).
			Dur("elapsed", elapsed).
			Str("stderrTail", lastLines(perr.Stderr, 5)).
			Str("stdoutTail", lastLines(perr.Stdout, 5)).
			Int("stderrDropped", perr.StderrDropped).
			Msg("Lip-sync synthesis failed")
		return "", perr
	}

	if info, statErr := os.Stat(outPath); statErr != nil || info.Size() == 0 {
		i.record("no_output", elapsed)
		removePartial(outPath)
		return "", fmt.Errorf("%w: %s", ErrOutputMissing, outPath)
	}

	i.record("success", elapsed)
	log.Info().Dur("elapsed", elapsed).Str("output", filepath.Base(outPath)).Msg("Lip-sync synthesis complete")
	return outPath, nil
}

// removePartial deletes whatever a failed run left at outPath, so a kept
// session never holds a truncated video.
func removePartial(outPath string) {
	if err := os.Remove(outPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("output", outPath).Msg("Failed to remove partial lip-sync output")
	}
}

func (i *Invoker) command(facePath, audioPath, outPath string) (string, []string) {
	args := i.Args(facePath, audioPath, outPath)
	if i.opts.Python == "" {
		return args[0], args[1:]
	}
	return i.opts.Python, args
}

func (i *Invoker) record(result string, elapsed time.Duration) {
	metrics.New().
		Dimension("Result", result).
		Metric("LipSyncMs", float64(elapsed.Milliseconds()), metrics.UnitMilliseconds).
		Count("LipSyncRuns").
		Flush()
}
