/*
refresher.go - Periodic configuration refresh

PURPOSE:
  Several server processes can share one database-backed coefficient
  document. Without Redis nobody tells a process that a peer replaced the
  document, so the Refresher polls the source and swaps the snapshot when
  the stored version differs from the cached one.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks once immediately on Start
  - Stop waits for an in-flight check to finish

USAGE:
  r := coefficients.NewRefresher(svc, time.Minute)
  r.Start(ctx)
  // ... later
  r.Stop()

SEE ALSO:
  - service.go: Invalidate / Reload
  - source.go: RedisCache.Subscribe (push-based alternative)
*/
package coefficients

import (
	"context"
	"sync"
	"time"

	"github.com/niuyj2008/performance-commission-system/logger"
)

// Refresher reloads a Service whenever its source holds a newer version.
type Refresher struct {
	Service  *Service
	Interval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewRefresher(svc *Service, interval time.Duration) *Refresher {
	return &Refresher{Service: svc, Interval: interval}
}

// Start begins polling. A non-positive Interval disables the refresher.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Interval <= 0 || r.ticker != nil {
		return
	}
	r.ticker = time.NewTicker(r.Interval)
	r.stop = make(chan struct{})
	r.wg.Add(1)
	go r.run(ctx)

	logger.Info(ctx, "configuration refresher started", "interval", r.Interval.String())
}

// Stop halts polling and waits for the loop to exit.
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ticker == nil {
		return
	}
	r.ticker.Stop()
	close(r.stop)
	r.wg.Wait()
	r.ticker = nil
}

func (r *Refresher) run(ctx context.Context) {
	defer r.wg.Done()

	r.Check(ctx)
	for {
		select {
		case <-r.ticker.C:
			r.Check(ctx)
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Check compares the stored version with the cached one and reloads on a
// difference. It reports whether a reload happened.
func (r *Refresher) Check(ctx context.Context) bool {
	changed, err := r.Service.Refresh(ctx)
	if err != nil {
		logger.Warn(ctx, "configuration refresh failed", "error", err)
		return false
	}
	return changed
}

// Refresh reloads the snapshot when the source's version differs from the
// cached one. A service with nothing cached yet loads on the next Snapshot
// call instead.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()
	if current == nil {
		return false, nil
	}

	doc, err := s.source.Load(ctx)
	if err != nil {
		return false, err
	}
	if doc.Version == current.Version() {
		return false, nil
	}
	snap, err := s.Reload(ctx)
	if err != nil {
		return false, err
	}
	logger.Info(ctx, "coefficient configuration refreshed", "from", current.Version(), "to", snap.Version())
	return true, nil
}
