package session

import (
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kestrelworks/parley/internal/models"
)

// DefaultSweepInterval is how often the scheduler checks for overdue
// sessions when no interval is configured.
const DefaultSweepInterval = 300 * time.Second

// Scheduler periodically sweeps the repository for pending sessions past
// their deadline and forces the expired transition. Sweeps never overlap:
// a sweep still running when the next tick fires causes that tick to be
// skipped rather than queued behind it.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

// SchedulerOpts holds parameters for creating a Scheduler.
type SchedulerOpts struct {
	Service  *Service
	Interval time.Duration    // defaults to DefaultSweepInterval
	Now      func() time.Time // defaults to time.Now
}

// NewScheduler creates a Scheduler.
func NewScheduler(opts SchedulerOpts) (*Scheduler, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("session: scheduler: service is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{svc: opts.Service, interval: interval, now: now}, nil
}

// Sweep runs one expiry pass: query pending sessions whose deadline has
// passed and expire each. Per-session failures are logged and do not stop
// the pass. Returns the number of sessions expired.
func (s *Scheduler) Sweep() (int, error) {
	cutoff := s.now().Unix()
	sessions, err := s.svc.store.Query(Filter{
		Status:       models.StatusPending,
		ExpiryBefore: cutoff,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sess := range sessions {
		if err := s.svc.ExpireSession(sess.SessionID); err != nil {
			// A conflict means a response landed between the query and the
			// update; that session is no longer ours to expire.
			log.Printf("expiry: session %s: %v", sess.SessionID, err)
			continue
		}
		log.Printf("expiry: session %s marked expired", sess.SessionID)
		expired++
	}
	return expired, nil
}

// Start begins the sweep loop. Errors inside a sweep are logged; the loop
// runs on its fixed interval until Stop.
func (s *Scheduler) Start() {
	if s.cron != nil {
		return
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		n, err := s.Sweep()
		if err != nil {
			log.Printf("expiry: sweep failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("expiry: sweep expired %d sessions", n)
		}
	}))
	c.Start()
	s.cron = c
	log.Printf("expiry: scheduler started, sweeping every %s", s.interval)
}

// Stop halts the loop and blocks until an in-flight sweep completes.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil
	log.Printf("expiry: scheduler stopped")
}
