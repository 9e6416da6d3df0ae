package app

import (
	"errors"
	"fmt"
)

// Tasks a batch event can request.
const (
	TaskVideos    = "videos"
	TaskBlessings = "blessings"
)

// ErrNoGuestsSelected rejects a batch that names no guests.
var ErrNoGuestsSelected = errors.New("guestIndexes must list at least one guest")

// BatchEvent is the Lambda invocation payload.
type BatchEvent struct {
	GuestIndexes []int  `json:"guestIndexes"`
	Force        bool   `json:"force"`
	Task         string `json:"task,omitempty"`
}

// Validate checks the task name and that at least one guest is selected.
// There is no event form meaning every guest.
func (e BatchEvent) Validate() error {
	switch e.Task {
	case "", TaskVideos, TaskBlessings:
	default:
		return fmt.Errorf("unknown task %q", e.Task)
	}
	if len(e.GuestIndexes) == 0 {
		return ErrNoGuestsSelected
	}
	for _, row := range e.GuestIndexes {
		if row < 0 {
			return fmt.Errorf("guestIndexes: invalid row %d", row)
		}
	}
	return nil
}
