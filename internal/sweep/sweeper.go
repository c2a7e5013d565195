// Package sweep periodically deletes expired session and ticket rows. Validity is
// always decided at read time, so sweeping only reclaims space.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultGrace keeps rows this long past expiry before they are eligible for deletion.
const DefaultGrace = 5 * time.Minute

// Expirer deletes rows that expired before a given time. Both the session and
// ticket repositories implement it.
type Expirer interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper runs DeleteExpired on a set of named stores.
type Sweeper struct {
	stores map[string]Expirer
	grace  time.Duration
	log    zerolog.Logger
	now    func() time.Time
}

// New returns a Sweeper over stores (e.g. {"sessions": ..., "tickets": ...}).
// A non-positive grace uses DefaultGrace.
func New(stores map[string]Expirer, grace time.Duration, log zerolog.Logger) *Sweeper {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Sweeper{stores: stores, grace: grace, log: log, now: time.Now}
}

// RunOnce sweeps every store once and returns the number of rows removed per store.
// A failing store does not stop the others; errors are joined.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int64, error) {
	before := s.now().UTC().Add(-s.grace)
	removed := make(map[string]int64, len(s.stores))
	var errs []error
	for name, st := range s.stores {
		n, err := st.DeleteExpired(ctx, before)
		if err != nil {
			s.log.Warn().Err(err).Str("store", name).Msg("sweep failed")
			errs = append(errs, err)
			continue
		}
		removed[name] = n
		if n > 0 {
			s.log.Info().Str("store", name).Int64("removed", n).Msg("swept expired rows")
		}
	}
	return removed, errors.Join(errs...)
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		_, _ = s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
