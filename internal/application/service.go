package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketdata-etl/internal/domain"
	"marketdata-etl/internal/normalize"

	"go.uber.org/zap"
)

const (
	TriggerSchedule = "schedule"
	TriggerCatchUp  = "catch-up"
	TriggerManual   = "manual"
)

// journalTimeout bounds the bookkeeping writes made after a cycle ends,
// which run even when the cycle context is gone.
const journalTimeout = 5 * time.Second

// Pipeline binds a cadence to the source it fetches and the parser of that
// source's payload.
type Pipeline struct {
	Cadence domain.Cadence
	Source  Source
	Domain  normalize.Domain
	Options normalize.Options
}

type IngestionService struct {
	pipelines    map[domain.Cadence]Pipeline
	secrets      SecretProvider
	loader       *Loader
	journal      CycleJournal
	watermarks   WatermarkRepo
	clock        Clock
	idgen        IDGen
	scope        LogScope
	cycleTimeout time.Duration
}

type Option func(*IngestionService)

func WithClock(c Clock) Option { return func(s *IngestionService) { s.clock = c } }
func WithIDGen(g IDGen) Option { return func(s *IngestionService) { s.idgen = g } }

// WithLogScope routes cycle logs, and the cycle fields carried on ctx, through
// ls. Without it the service logs nothing.
func WithLogScope(ls LogScope) Option { return func(s *IngestionService) { s.scope = ls } }

// WithCycleTimeout caps the wall-clock time of a whole cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(s *IngestionService) { s.cycleTimeout = d }
}

func NewIngestionService(
	secrets SecretProvider,
	loader *Loader,
	journal CycleJournal,
	watermarks WatermarkRepo,
	pipelines []Pipeline,
	opts ...Option,
) *IngestionService {
	s := &IngestionService{
		pipelines:  make(map[domain.Cadence]Pipeline, len(pipelines)),
		secrets:    secrets,
		loader:     loader,
		journal:    journal,
		watermarks: watermarks,
	}
	for _, p := range pipelines {
		s.pipelines[p.Cadence] = p
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	if s.idgen == nil {
		s.idgen = defaultIDGen{}
	}
	if s.scope == nil {
		s.scope = nopScope{}
	}
	return s
}

func (s *IngestionService) RunQuoteCycle(ctx context.Context, trigger string) (domain.CycleRun, error) {
	return s.RunCycle(ctx, domain.CadenceQuotes, trigger)
}

func (s *IngestionService) RunRateCycle(ctx context.Context, trigger string) (domain.CycleRun, error) {
	return s.RunCycle(ctx, domain.CadenceRates, trigger)
}

func (s *IngestionService) Watermark(ctx context.Context, c domain.Cadence) (domain.Watermark, error) {
	return s.watermarks.GetWatermark(ctx, c)
}

// RunCycle performs one fetch, normalize and load pass for cadence c and
// journals the outcome. The returned error is the cycle's failure, if any;
// callers use domain.IsFatal to decide whether the cadence should stop.
func (s *IngestionService) RunCycle(ctx context.Context, c domain.Cadence, trigger string) (domain.CycleRun, error) {
	p, ok := s.pipelines[c]
	if !ok {
		return domain.CycleRun{}, fmt.Errorf("%w: no pipeline for cadence %q", domain.ErrInvalidConfig, c)
	}

	run := domain.CycleRun{
		ID:        s.idgen.NewID(),
		Cadence:   c,
		Trigger:   trigger,
		Status:    domain.CycleStatusRunning,
		StartedAt: s.clock.Now().UTC(),
	}
	ctx = s.scope.With(ctx,
		zap.String("cadence", string(c)),
		zap.String("cycle_id", run.ID),
		zap.String("trigger", trigger),
	)
	log := s.scope.Logger(ctx)
	log.Info("cycle.start", zap.String("provider", p.Source.Name()))
	if err := s.journal.StartCycle(ctx, run); err != nil {
		log.Warn("cycle.journal_failed", zap.Error(err))
	}

	cycleCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.cycleTimeout > 0 {
		cycleCtx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
	}
	warn, err := s.execute(cycleCtx, p, &run)
	cancel()

	finished := s.clock.Now().UTC()
	run.FinishedAt = &finished
	switch {
	case err != nil:
		run.Status = domain.CycleStatusFailed
		msg := err.Error()
		run.Error = &msg
	case warn != nil || run.Result.Rejected > 0:
		run.Status = domain.CycleStatusPartial
		if warn != nil {
			msg := warn.Error()
			run.Error = &msg
		}
	default:
		run.Status = domain.CycleStatusDone
	}

	s.finish(ctx, run)

	fields := []zap.Field{
		zap.String("status", string(run.Status)),
		zap.Int("fetched", run.Fetched),
		zap.Int("inserted", run.Result.Inserted),
		zap.Int("updated", run.Result.Updated),
		zap.Int("skipped", run.Result.Skipped),
		zap.Duration("took", finished.Sub(run.StartedAt)),
	}
	switch {
	case err == nil:
		log.Info("cycle.finished", fields...)
	case domain.IsFatal(err):
		log.Error("cycle.failed", append(fields, zap.Error(err))...)
	default:
		log.Warn("cycle.failed", append(fields, zap.Error(err))...)
	}
	return run, err
}

func (s *IngestionService) execute(ctx context.Context, p Pipeline, run *domain.CycleRun) (*domain.NormalizationWarning, error) {
	var secret string
	if name := p.Source.SecretName(); name != "" {
		v, err := s.secrets.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("secret %q: %w", name, err)
		}
		secret = v
	}

	fetchedAt := s.clock.Now().UTC()
	raw, err := p.Source.Fetch(ctx, secret)
	if err != nil {
		return nil, err
	}

	opts := p.Options
	opts.FetchedAt = fetchedAt
	batch, err := normalize.Normalize(raw, p.Domain, opts)
	if err != nil {
		return nil, err
	}
	run.Fetched = batch.Len() + batch.Skipped()
	if batch.Warning != nil {
		s.scope.Logger(ctx).Warn("normalize.skipped",
			zap.Int("skipped", batch.Warning.Skipped),
			zap.Strings("reasons", batch.Warning.Reasons))
	}

	res, err := s.loader.Load(ctx, batch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = errors.Join(err, ctxErr)
		}
		return nil, err
	}
	run.Result = res
	return batch.Warning, nil
}

// finish writes the journal entry and, for completed cycles, the watermark.
// It runs on a detached context so an aborted cycle is still recorded.
func (s *IngestionService) finish(ctx context.Context, run domain.CycleRun) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	log := s.scope.Logger(ctx)
	if err := s.journal.FinishCycle(fctx, run); err != nil {
		log.Warn("cycle.journal_failed", zap.Error(err))
	}
	if !run.Status.Completed() {
		return
	}
	if err := s.watermarks.AdvanceWatermark(fctx, run.Cadence, run.StartedAt); err != nil {
		log.Warn("cycle.watermark_failed", zap.Error(err))
	}
}
