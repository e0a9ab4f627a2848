package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"marketdata-etl/internal/application"
	"marketdata-etl/internal/domain"
	infraconfig "marketdata-etl/internal/infrastructure/config"
	"marketdata-etl/internal/infrastructure/logx"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CycleRunner is the part of the ingestion service the scheduler drives.
type CycleRunner interface {
	RunCycle(ctx context.Context, c domain.Cadence, trigger string) (domain.CycleRun, error)
	Watermark(ctx context.Context, c domain.Cadence) (domain.Watermark, error)
}

type Schedule struct {
	Cadence domain.Cadence
	Spec    string
}

type CadenceStatus struct {
	Cadence    domain.Cadence `json:"cadence"`
	Spec       string         `json:"spec"`
	InFlight   bool           `json:"in_flight"`
	Halted     bool           `json:"halted"`
	HaltReason string         `json:"halt_reason,omitempty"`
	Skipped    int64          `json:"skipped_fires"`
	Next       *time.Time     `json:"next_fire,omitempty"`
}

var _ application.Worker = (*Scheduler)(nil)

// Scheduler fires one cycle per cadence on its cron spec. A cadence never
// overlaps itself: a fire that finds the previous cycle still running is
// dropped. A fatal cycle error stops that cadence and leaves the others be.
type Scheduler struct {
	runner CycleRunner
	cron   *cron.Cron
	jobs   []*cadenceJob
	now    func() time.Time
	grace  time.Duration
	log    *zap.Logger

	mu         sync.Mutex
	stopping   bool
	wg         sync.WaitGroup
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithShutdownGrace bounds how long Start waits for in-flight cycles after
// its context ends before cancelling them.
func WithShutdownGrace(d time.Duration) Option { return func(s *Scheduler) { s.grace = d } }

func NewScheduler(runner CycleRunner, schedules []Schedule, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		runner: runner,
		now:    time.Now,
		grace:  infraconfig.DefaultShutdownTimeout,
		log:    logx.L().With(zap.String("worker", "scheduler")),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(logx.CronLogger()))
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())

	seen := map[domain.Cadence]bool{}
	for _, sc := range schedules {
		if !sc.Cadence.Valid() || seen[sc.Cadence] {
			return nil, fmt.Errorf("%w: schedule for cadence %q", domain.ErrInvalidConfig, sc.Cadence)
		}
		seen[sc.Cadence] = true
		j := &cadenceJob{s: s, cadence: sc.Cadence, spec: sc.Spec}
		id, err := s.cron.AddJob(sc.Spec, j)
		if err != nil {
			return nil, fmt.Errorf("%w: cron spec %q for %s: %v", domain.ErrInvalidConfig, sc.Spec, sc.Cadence, err)
		}
		j.entry = id
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

// Start runs catch-up cycles for stale cadences, then fires on schedule
// until ctx ends. It returns once in-flight cycles have finished or the
// shutdown grace has run out.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("scheduler.started", zap.Int("cadences", len(s.jobs)))
	now := s.now()
	for _, j := range s.jobs {
		wm, err := s.runner.Watermark(ctx, j.cadence)
		if err != nil {
			s.log.Warn("scheduler.watermark_failed", zap.String("cadence", string(j.cadence)), zap.Error(err))
		} else if !wm.Stale(now) {
			continue
		}
		s.log.Info("scheduler.catch_up",
			zap.String("cadence", string(j.cadence)),
			zap.Time("last_success_at", wm.LastSuccessAt))
		go j.s.fire(j, application.TriggerCatchUp)
	}
	s.cron.Start()

	<-ctx.Done()
	s.shutdown()
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	// cron's own wait would ignore the grace period; wg covers its jobs
	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.grace):
		s.log.Warn("scheduler.grace_exceeded", zap.Duration("grace", s.grace))
		s.cancelRuns()
		<-done
	}
	s.cancelRuns()
	s.log.Info("scheduler.stopped")
}

// Status reports every cadence's guard state and next fire time.
func (s *Scheduler) Status() []CadenceStatus {
	out := make([]CadenceStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := CadenceStatus{
			Cadence:  j.cadence,
			Spec:     j.spec,
			InFlight: j.inFlight.Load(),
			Halted:   j.halted.Load(),
			Skipped:  j.skipped.Load(),
		}
		j.mu.Lock()
		st.HaltReason = j.haltReason
		j.mu.Unlock()
		if !st.Halted {
			if next := s.cron.Entry(j.entry).Next; !next.IsZero() {
				st.Next = &next
			}
		}
		out = append(out, st)
	}
	return out
}

// fire runs one cycle unless the cadence is halted, busy, or the scheduler
// is stopping. It reports whether a cycle ran.
func (s *Scheduler) fire(j *cadenceJob, trigger string) bool {
	log := s.log.With(zap.String("cadence", string(j.cadence)), zap.String("trigger", trigger))
	if j.halted.Load() {
		log.Debug("cycle.skipped_halted")
		return false
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	if !j.inFlight.CompareAndSwap(false, true) {
		j.skipped.Add(1)
		log.Warn("cycle.skipped_in_flight")
		return false
	}
	defer j.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			log.Error("cycle.panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	_, err := s.runner.RunCycle(s.runCtx, j.cadence, trigger)
	if err != nil && domain.IsFatal(err) {
		s.halt(j, err)
	}
	return true
}

func (s *Scheduler) halt(j *cadenceJob, err error) {
	if !j.halted.CompareAndSwap(false, true) {
		return
	}
	j.mu.Lock()
	j.haltReason = err.Error()
	j.mu.Unlock()
	s.cron.Remove(j.entry)
	s.log.Error("cadence.halted", zap.String("cadence", string(j.cadence)), zap.Error(err))
}

type cadenceJob struct {
	s       *Scheduler
	cadence domain.Cadence
	spec    string
	entry   cron.EntryID

	inFlight atomic.Bool
	halted   atomic.Bool
	skipped  atomic.Int64

	mu         sync.Mutex
	haltReason string
}

// Run implements cron.Job.
func (j *cadenceJob) Run() { j.s.fire(j, application.TriggerSchedule) }
