package lipsync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelMissing means the checkpoint file is absent. No process is
	// started in that case.
	ErrModelMissing = errors.New("lip-sync model checkpoint not found")

	// ErrOutputMissing means the process exited 0 without writing the video.
	ErrOutputMissing = errors.New("lip-sync exited successfully but produced no output")
)

// ProcessError is a non-zero exit or a timeout of the synthesis process.
// Stderr and Stdout hold the captured output, at most the last 1 MiB of
// each; StderrDropped counts the stderr bytes cut from the front.
type ProcessError struct {
	ExitCode      int
	Stderr        string
	Stdout        string
	StderrDropped int
	TimedOut      bool
}

func (e *ProcessError) Error() string {
	tail := lastLines(e.Stderr, 5)
	if e.TimedOut {
		if tail == "" {
			return "lip-sync timed out"
		}
		return "lip-sync timed out: " + tail
	}
	if tail == "" {
		return fmt.Sprintf("lip-sync exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("lip-sync exited with code %d: %s", e.ExitCode, tail)
}

// LaunchError means the process could not be started at all.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, " | "))
}
