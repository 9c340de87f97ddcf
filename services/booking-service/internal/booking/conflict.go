package booking

import (
	"context"
	"time"
)

// Detector answers whether a candidate interval collides with an existing
// pending/confirmed appointment. It is evaluated against committed state;
// the booking path holds the per-business slot lock while calling it so the
// answer cannot be invalidated by a concurrent writer.
type Detector struct {
	store Store
}

func NewDetector(store Store) *Detector {
	return &Detector{store: store}
}

// HasConflict runs the half-open interval overlap query. excludeID skips the
// appointment being rescheduled; staffID narrows the check to one staff
// member when staff assignment is in use.
func (d *Detector) HasConflict(ctx context.Context, businessID, staffID string, start, end time.Time, excludeID string) (bool, error) {
	overlapping, err := d.store.ListOverlapping(ctx, businessID, staffID, start, end, excludeID)
	if err != nil {
		return false, err
	}
	return len(overlapping) > 0, nil
}
