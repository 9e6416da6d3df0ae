// Package jobs issues batch identifiers.
package jobs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	batchPrefix = "batch-"
	stampLayout = "20060102T150405"
)

// ErrInvalidBatchID is returned by ParseBatchID for IDs not issued by NewBatchID.
var ErrInvalidBatchID = errors.New("invalid batch ID")

// NewBatchID returns an ID of the form batch-<UTC timestamp>-<8 hex>, which
// sorts by start time.
func NewBatchID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return batchPrefix + now.UTC().Format(stampLayout) + "-" + suffix
}

// ParseBatchID validates id and returns the time the batch started.
func ParseBatchID(id string) (time.Time, error) {
	rest, ok := strings.CutPrefix(id, batchPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBatchID, id)
	}
	stamp, suffix, ok := strings.Cut(rest, "-")
	if !ok || len(suffix) != 8 || strings.Trim(suffix, "0123456789abcdef") != "" {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBatchID, id)
	}
	t, err := time.Parse(stampLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidBatchID, id)
	}
	return t, nil
}
