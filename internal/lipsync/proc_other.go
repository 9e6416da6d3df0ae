//go:build !unix

package lipsync

import "os/exec"

// killProcessGroup keeps the default cancellation, which kills the direct
// child only.
func killProcessGroup(cmd *exec.Cmd) {}
