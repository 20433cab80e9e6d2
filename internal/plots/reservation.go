package plots

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// Reservation errors, returned synchronously to the caller. Retrying is the
// caller's decision.
var (
	ErrPlotNotFound  = errors.New("plot not found")
	ErrAlreadyLocked = errors.New("plot is locked by another user")
	ErrNotOwner      = errors.New("plot is locked by a different user")
	ErrInvalidState  = errors.New("plot is not available for reservation")
)

// DefaultLockTTL is how long a cart reservation holds a plot.
const DefaultLockTTL = 15 * time.Minute

// PlotStore is the storage contract the reservation state machine runs on.
// AcquireLock/ReleaseLock must be atomic conditional writes: multiple
// service instances share the repository, so in-process locking is not
// sufficient.
type PlotStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Plot, error)
	AcquireLock(ctx context.Context, id uuid.UUID, userID string, until time.Time) (bool, error)
	ReleaseLock(ctx context.Context, id uuid.UUID, userID string) (bool, error)
	ReleaseExpired(ctx context.Context) (int64, error)
}

// ReservationManager implements the lock/unlock/expire state machine over
// plot status fields.
type ReservationManager struct {
	store PlotStore
	ttl   time.Duration
}

func NewReservationManager(store PlotStore, ttl time.Duration) *ReservationManager {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &ReservationManager{store: store, ttl: ttl}
}

func (m *ReservationManager) TTL() time.Duration { return m.ttl }

// Lock reserves a plot for userID until now+TTL. The storage-level CAS
// treats an expired-but-unswept hold as available, so a fresh caller can
// take over a stale reservation without waiting for the sweeper.
func (m *ReservationManager) Lock(ctx context.Context, plotID uuid.UUID, userID string) (*Plot, error) {
	until := time.Now().Add(m.ttl)

	ok, err := m.store.AcquireLock(ctx, plotID, userID, until)
	if err != nil {
		return nil, err
	}
	if ok {
		return m.store.Get(ctx, plotID)
	}

	// CAS missed: read the row once to classify the refusal.
	p, err := m.store.Get(ctx, plotID)
	if err != nil {
		return nil, err
	}
	switch p.Status {
	case StatusSold, StatusPendingPayment:
		return nil, ErrInvalidState
	default:
		// Locked by someone else, or lost a race with a concurrent caller.
		return nil, ErrAlreadyLocked
	}
}

// Unlock releases userID's own hold on a plot.
func (m *ReservationManager) Unlock(ctx context.Context, plotID uuid.UUID, userID string) (*Plot, error) {
	ok, err := m.store.ReleaseLock(ctx, plotID, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return m.store.Get(ctx, plotID)
	}

	p, err := m.store.Get(ctx, plotID)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusLocked {
		return nil, ErrNotOwner
	}
	return nil, ErrInvalidState
}

// SweepExpired releases every lapsed hold and returns how many plots were
// freed. Safe to run concurrently with Lock/Unlock and with itself.
func (m *ReservationManager) SweepExpired(ctx context.Context) (int64, error) {
	return m.store.ReleaseExpired(ctx)
}

// StartSweeper runs SweepExpired on a fixed interval until ctx is done.
// The interval should be short relative to the TTL to bound staleness.
func (m *ReservationManager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				released, err := m.SweepExpired(ctx)
				if err != nil {
					log.Printf("[reservations] sweep failed: %v", err)
					continue
				}
				if released > 0 {
					log.Printf("[reservations] released %d expired locks", released)
				}
			}
		}
	}()
}
