// Package jobs runs periodic background work on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/billing"
	"github.com/hackgods/clinica/internal/observability/metrics"
)

// Receivables is the read side of the ledger the snapshot job needs.
type Receivables interface {
	AccountsReceivable(ctx context.Context) ([]billing.Receivable, error)
}

// Snapshot summarizes accounts receivable at a point in time.
type Snapshot struct {
	Invoices    int
	Outstanding string
	Oldest      *time.Time
}

// ReceivablesJob recomputes accounts receivable and publishes the totals as
// gauges.
type ReceivablesJob struct {
	source  Receivables
	metrics *metrics.Metrics
	logger  *zap.Logger
	timeout time.Duration
}

func NewReceivablesJob(source Receivables, m *metrics.Metrics, logger *zap.Logger) *ReceivablesJob {
	return &ReceivablesJob{source: source, metrics: m, logger: logger, timeout: 20 * time.Second}
}

func (j *ReceivablesJob) RunOnce(ctx context.Context) (Snapshot, error) {
	runCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	recv, err := j.source.AccountsReceivable(runCtx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load receivables: %w", err)
	}

	total := billing.Outstanding(recv)
	snap := Snapshot{Invoices: len(recv), Outstanding: total.StringFixed(2)}
	if len(recv) > 0 {
		oldest := recv[0].CreatedAt
		snap.Oldest = &oldest
	}

	f, _ := total.Float64()
	j.metrics.SetReceivables(f, len(recv))

	fields := []zap.Field{
		zap.Int("invoices", snap.Invoices),
		zap.String("outstanding", snap.Outstanding),
		zap.Duration("took", time.Since(start)),
	}
	if snap.Oldest != nil {
		fields = append(fields, zap.Time("oldest", *snap.Oldest))
	}
	j.logger.Info("receivables snapshot", fields...)
	return snap, nil
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func NewScheduler(loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLogger{logger.Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		logger: logger,
	}
}

// Add registers fn under the cron expression expr. fn gets ctx and must honour it.
func (s *Scheduler) Add(ctx context.Context, expr, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(expr, func() {
		if err := fn(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, expr, err)
	}
	return nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop prevents new runs and waits for running jobs up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("cron jobs still running at shutdown")
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
