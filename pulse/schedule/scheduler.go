// Package schedule detects due wake-up calls and hands them to the worker
// pool. Calls fire from one-shot timers backed by a durable trigger table;
// a periodic scan reconciles anything the timers missed and a cron job
// expires stale claims.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teranos/wakeup/errors"
	"github.com/teranos/wakeup/logger"
	"github.com/teranos/wakeup/wakeup"
)

// Scheduler defaults
const (
	DefaultTickInterval    = 60 * time.Second
	DefaultLease           = 2 * time.Minute
	DefaultMaxLateness     = 30 * time.Minute
	DefaultMaintenanceCron = "*/5 * * * *"
	DefaultScanLimit       = 500
	leaseExpiredReason     = "lease expired"
)

// Submitter queues a call id for execution. *async.WorkerPool satisfies it.
type Submitter interface {
	Submit(id string) (bool, error)
	HasCapacity() bool
}

// Config configures a Scheduler
type Config struct {
	TickInterval    time.Duration
	Tolerance       time.Duration // half width of the scan window, 0 = TickInterval
	Lease           time.Duration
	MaxLateness     time.Duration // expired claims are retried until this long after the scheduled time
	MaintenanceCron string
	ScanLimit       int
}

// Scheduler fires wake-up calls at their scheduled time
type Scheduler struct {
	calls     *wakeup.Store
	triggers  *TriggerStore
	submitter Submitter
	cfg       Config
	now       func() time.Time
	logger    *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron

	// dispatch is serialized so the capacity check and submit agree
	dispatchMu sync.Mutex

	mu         sync.Mutex
	timers     map[string]armedTimer
	running    bool
	lastTickAt time.Time
	ticks      int64
	claims     int64
	duplicates int64
	deferred   int64
	expired    int64
	released   int64
}

type armedTimer struct {
	timer  *time.Timer
	fireAt time.Time
}

// Option customises a Scheduler
type Option func(*Scheduler)

// WithClock replaces time.Now for claim and window arithmetic
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a scheduler. Start arms the triggers and begins scanning.
func New(calls *wakeup.Store, triggers *TriggerStore, submitter Submitter, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Scheduler, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = cfg.TickInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.MaxLateness <= 0 {
		cfg.MaxLateness = DefaultMaxLateness
	}
	if cfg.MaxLateness < cfg.Tolerance {
		cfg.MaxLateness = cfg.Tolerance
	}
	if cfg.MaintenanceCron == "" {
		cfg.MaintenanceCron = DefaultMaintenanceCron
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = DefaultScanLimit
	}
	if _, err := cron.ParseStandard(cfg.MaintenanceCron); err != nil {
		return nil, errors.Wrapf(err, "invalid maintenance schedule %q", cfg.MaintenanceCron)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	s := &Scheduler{
		calls:     calls,
		triggers:  triggers,
		submitter: submitter,
		cfg:       cfg,
		now:       time.Now,
		logger:    log.Named("pulse.schedule"),
		timers:    make(map[string]armedTimer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start re-arms every stored trigger, then starts the scan loop and the
// maintenance schedule. Past-due triggers fire immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	triggers, err := s.triggers.List(s.ctx)
	if err != nil {
		s.abortStart()
		return err
	}
	for _, t := range triggers {
		s.arm(t.CallID, t.FireAt)
	}

	s.cron = cron.New(cron.WithLocation(time.UTC))
	if _, err := s.cron.AddFunc(s.cfg.MaintenanceCron, func() {
		if _, err := s.Maintain(s.ctx); err != nil {
			s.logger.Warnw("Lease maintenance failed", logger.FieldError, err)
		}
	}); err != nil {
		s.abortStart()
		return errors.Wrap(err, "failed to schedule maintenance")
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.run()

	s.logger.Infow("Scheduler started",
		"tick_interval", s.cfg.TickInterval,
		"tolerance", s.cfg.Tolerance,
		"lease", s.cfg.Lease,
		"max_lateness", s.cfg.MaxLateness,
		"maintenance", s.cfg.MaintenanceCron,
		"armed_timers", len(triggers),
	)
	return nil
}

func (s *Scheduler) abortStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.running = false
	s.cancel()
}

// Stop halts scanning, maintenance and all timers
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for id, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Infow("Scheduler stopped")
}

// Register stores a trigger for callID and arms its timer. Implements
// wakeup.TriggerRegistrar.
func (s *Scheduler) Register(ctx context.Context, callID string, at time.Time) error {
	if err := s.triggers.Upsert(ctx, callID, at, s.now()); err != nil {
		return err
	}
	s.arm(callID, at)
	return nil
}

// Unregister removes the trigger for callID and disarms its timer
func (s *Scheduler) Unregister(ctx context.Context, callID string) error {
	s.disarm(callID)
	return s.triggers.Delete(ctx, callID)
}

func (s *Scheduler) arm(callID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if t, ok := s.timers[callID]; ok {
		t.timer.Stop()
	}
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.timers[callID] = armedTimer{
		timer:  time.AfterFunc(delay, func() { s.fire(callID, at) }),
		fireAt: at,
	}
}

func (s *Scheduler) disarm(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[callID]; ok {
		t.timer.Stop()
		delete(s.timers, callID)
	}
}

func (s *Scheduler) armed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[callID]
	return ok
}

// fire runs when a timer expires. A timer replaced by a later Register or
// removed by Unregister does nothing.
func (s *Scheduler) fire(callID string, at time.Time) {
	s.mu.Lock()
	t, ok := s.timers[callID]
	if !s.running || !ok || !t.fireAt.Equal(at) {
		s.mu.Unlock()
		return
	}
	delete(s.timers, callID)
	ctx := s.ctx
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if _, err := s.dispatch(ctx, callID); err != nil {
		s.logger.Warnw("Trigger dispatch failed", logger.FieldCallID, callID, logger.FieldError, err)
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Scan(s.ctx); err != nil {
				s.logger.Warnw("Scheduler tick error", logger.FieldError, err)
			}
		}
	}
}

// Scan dispatches every scheduled call due within the tolerance window and
// every expired claim no older than the max lateness. Future calls with an
// armed timer are left to the timer. Returns how many were handed to the
// pool.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	s.lastTickAt = now
	s.ticks++
	s.mu.Unlock()

	due, err := s.calls.ListDue(ctx, now.Add(-s.cfg.Tolerance), now.Add(s.cfg.Tolerance),
		now.Add(-s.cfg.MaxLateness), now, s.cfg.ScanLimit)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, c := range due {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		if c.ScheduledTime.After(now) && s.armed(c.ID) {
			continue
		}
		ok, err := s.dispatch(ctx, c.ID)
		if err != nil {
			s.logger.Errorw("Failed to dispatch wake-up call", logger.FieldCallID, c.ID, logger.FieldError, err)
			continue
		}
		if ok {
			submitted++
		}
	}
	if submitted > 0 {
		s.logger.Infow("Scan dispatched wake-up calls", logger.FieldCount, submitted)
	}
	return submitted, nil
}

// dispatch claims callID and submits it. Returns false when another
// claimant holds the call or the pool has no room.
func (s *Scheduler) dispatch(ctx context.Context, callID string) (bool, error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if !s.submitter.HasCapacity() {
		s.count(&s.deferred)
		s.logger.Warnw("Worker queue full, deferring wake-up call to the next scan", logger.FieldCallID, callID)
		return false, nil
	}

	claimed, err := s.calls.Claim(ctx, callID, s.now(), s.cfg.Lease)
	if err != nil {
		return false, err
	}
	if !claimed {
		s.count(&s.duplicates)
		s.logger.Debugw("Wake-up call already claimed", logger.FieldCallID, callID)
		return false, nil
	}
	s.count(&s.claims)

	s.disarm(callID)
	if err := s.triggers.Delete(ctx, callID); err != nil {
		s.logger.Warnw("Failed to remove fired trigger", logger.FieldCallID, callID, logger.FieldError, err)
	}

	queued, err := s.submitter.Submit(callID)
	if err != nil {
		return false, errors.Wrapf(err, "failed to submit claimed wake-up call %s", callID)
	}
	if !queued {
		s.count(&s.duplicates)
	}
	return queued, nil
}

// Maintain fails active calls whose lease expired more than a tick ago and
// whose scheduled time is older than the max lateness, so no scan will
// retry them. Returns how many were expired.
func (s *Scheduler) Maintain(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.calls.ListStaleActive(ctx, now.Add(-s.cfg.TickInterval), now.Add(-s.cfg.MaxLateness), s.cfg.ScanLimit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range stale {
		ok, err := s.calls.ExpireStale(ctx, c.ID, now, leaseExpiredReason)
		if err != nil {
			s.logger.Errorw("Failed to expire stale wake-up call", logger.FieldCallID, c.ID, logger.FieldError, err)
			continue
		}
		if ok {
			expired++
		}
	}

	s.mu.Lock()
	s.expired += int64(expired)
	s.mu.Unlock()
	if expired > 0 {
		s.logger.Warnw("Expired stale wake-up calls", logger.FieldCount, expired)
	}
	return expired, nil
}

// Release hands back a claimed call whose execution never started, such as
// one still queued when the worker pool stopped. The call returns to
// scheduled and its trigger is stored again so the next start re-arms it.
// Implements async.Releaser.
func (s *Scheduler) Release(ctx context.Context, callID string) error {
	now := s.now()
	ok, err := s.calls.ReleaseClaim(ctx, callID, now)
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Debugw("Claim already resolved, nothing to release", logger.FieldCallID, callID)
		return nil
	}
	s.count(&s.released)

	c, err := s.calls.Get(ctx, callID)
	if err != nil {
		return err
	}
	if err := s.Register(ctx, callID, c.ScheduledTime); err != nil {
		return errors.Wrapf(err, "failed to restore trigger for wake-up call %s", callID)
	}
	s.logger.Infow("Released unstarted wake-up call", logger.FieldCallID, callID)
	return nil
}

func (s *Scheduler) count(field *int64) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Stats is a snapshot of scheduler activity
type Stats struct {
	LastTickAt      time.Time `json:"last_tick_at"`
	TicksSinceStart int64     `json:"ticks_since_start"`
	ArmedTimers     int       `json:"armed_timers"`
	Claims          int64     `json:"claims"`
	Duplicates      int64     `json:"duplicates_suppressed"`
	Deferred        int64     `json:"deferred"`
	Expired         int64     `json:"expired"`
	Released        int64     `json:"released"`
}

// Stats returns current counters
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		LastTickAt:      s.lastTickAt,
		TicksSinceStart: s.ticks,
		ArmedTimers:     len(s.timers),
		Claims:          s.claims,
		Duplicates:      s.duplicates,
		Deferred:        s.deferred,
		Expired:         s.expired,
		Released:        s.released,
	}
}
