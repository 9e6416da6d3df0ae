package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fpang/guest-avatar/internal/guest"
)

// Reporter writes a guest's terminal outcome back to the record store.
type Reporter struct {
	store guest.Store
}

// NewReporter creates a Reporter.
func NewReporter(store guest.Store) *Reporter {
	return &Reporter{store: store}
}

// Report writes the artifact location, then the status. Both writes are
// attempted; failures are logged, never retried, and returned wrapped in
// ErrWriteBack. An empty artifact is the failure marker. The writes run
// under guest.WriteContext, so they still happen after ctx is cancelled.
func (r *Reporter) Report(ctx context.Context, row int, artifact, status string) error {
	ctx, cancel := guest.WriteContext(ctx)
	defer cancel()

	var errs []error
	if err := r.store.WriteField(ctx, row, guest.FieldVideoURL, artifact); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", guest.FieldVideoURL, err))
	}
	if err := r.store.WriteField(ctx, row, guest.FieldStatus, status); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", guest.FieldStatus, err))
	}
	if len(errs) == 0 {
		log.Debug().Int("row", row).Str("status", status).Msg("Guest status reported")
		return nil
	}

	err := fmt.Errorf("%w: %w", ErrWriteBack, errors.Join(errs...))
	log.Error().Err(err).Int("row", row).Str("status", status).Msg("Failed to report guest status")
	return err
}
