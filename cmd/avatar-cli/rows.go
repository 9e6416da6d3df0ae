package main

import (
	"context"
	"fmt"

	"github.com/fpang/guest-avatar/internal/guest"
)

// allRows expands --all into every row currently in the store.
func allRows(ctx context.Context, store guest.Store) ([]int, error) {
	records, err := store.Guests(ctx)
	if err != nil {
		return nil, fmt.Errorf("read guests: %w", err)
	}
	return guest.AllRows(records), nil
}
