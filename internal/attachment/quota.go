package attachment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type inProgressCounter interface {
	InProgressCount(ctx context.Context, userID uuid.UUID) (int, error)
}

// QuotaTracker bounds how many uploads a user may have awaiting background
// processing. The count is read from the record store so every API and
// worker process sees the same value.
type QuotaTracker struct {
	store inProgressCounter
}

// NewQuotaTracker constructs a QuotaTracker.
func NewQuotaTracker(store inProgressCounter) *QuotaTracker {
	return &QuotaTracker{store: store}
}

// Count returns the user's in-progress attachments.
func (q *QuotaTracker) Count(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := q.store.InProgressCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count in-progress uploads: %w", err)
	}
	return n, nil
}

// TryReserve reports whether the user is below limit. It has no side
// effect; creating the stub record is what takes the slot, and finalizing
// it gives the slot back.
func (q *QuotaTracker) TryReserve(ctx context.Context, userID uuid.UUID, limit int) (bool, error) {
	n, err := q.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return n < limit, nil
}
