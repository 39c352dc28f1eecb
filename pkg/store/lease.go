package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// Lease is the record that keeps two reconciliation cycles from running
// against the target at the same time. It expires on its own, so a crashed
// holder cannot wedge the loop.
type Lease struct {
	Holder   string    `json:"holder"`
	Acquired time.Time `json:"acquired"`
	Expires  time.Time `json:"expires"`
}

// ErrLeaseHeld reports a live lease owned by someone else.
var ErrLeaseHeld = errors.New("cycle lease held")

// AcquireLease takes the lease for holder, or fails with ErrLeaseHeld. An
// expired lease or one already owned by holder is taken over. The store
// offers no compare-and-swap; writing and reading back catches two
// acquirers landing together, with the loser backing off to its next tick.
func AcquireLease(ctx context.Context, s ObjectStore, holder string, ttl time.Duration) (*Lease, error) {
	var current Lease
	err := GetJSON(ctx, s, LeaseKey, &current)
	switch {
	case err == nil:
		if time.Now().Before(current.Expires) && current.Holder != holder {
			return nil, fmt.Errorf("%w by [%s] until %s", ErrLeaseHeld, current.Holder, current.Expires.Format(time.RFC3339))
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, fmt.Errorf("reading lease: %w", err)
	}

	now := time.Now().UTC()
	lease := &Lease{Holder: holder, Acquired: now, Expires: now.Add(ttl)}
	if err := PutJSON(ctx, s, LeaseKey, lease); err != nil {
		return nil, fmt.Errorf("writing lease: %w", err)
	}

	var check Lease
	if err := GetJSON(ctx, s, LeaseKey, &check); err != nil {
		return nil, fmt.Errorf("confirming lease: %w", err)
	}
	if check.Holder != holder {
		return nil, fmt.Errorf("%w by [%s], lost the race", ErrLeaseHeld, check.Holder)
	}
	log.Debugf("Acquired cycle lease until %s", lease.Expires.Format(time.RFC3339))
	return lease, nil
}

// ReleaseLease ends holder's lease by writing it back expired. If someone
// else took the lease over in the meantime (this holder outlived its TTL),
// their record is left alone.
func ReleaseLease(ctx context.Context, s ObjectStore, holder string) error {
	var current Lease
	err := GetJSON(ctx, s, LeaseKey, &current)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading lease: %w", err)
	}
	if current.Holder != holder {
		log.Warnf("Cycle lease now held by [%s], not releasing it", current.Holder)
		return nil
	}
	current.Expires = time.Now().UTC()
	if err := PutJSON(ctx, s, LeaseKey, &current); err != nil {
		return fmt.Errorf("releasing lease: %w", err)
	}
	return nil
}
