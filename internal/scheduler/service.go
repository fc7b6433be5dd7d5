package scheduler

import (
	"context"
	"sync"
	"time"

	"pawpool/internal/ledger"
	"pawpool/internal/pool"
	"pawpool/pkg/logger"
)

// PoolJobs is the part of the pool service the scheduler drives.
type PoolJobs interface {
	RetryPendingReleases(ctx context.Context, limit int, at time.Time) (*pool.OperationResult, error)
	Reconcile(ctx context.Context) (*ledger.Report, error)
}

type Config struct {
	RetryInterval     time.Duration
	RetryBatchSize    int
	ReconcileInterval time.Duration
}

// Scheduler periodically retries pending gateway refunds and reconciles the
// ledger. A zero interval disables the job.
type Scheduler struct {
	jobs   PoolJobs
	cfg    Config
	logger logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(jobs PoolJobs, cfg Config, log logger.Logger) *Scheduler {
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 50
	}
	return &Scheduler{
		jobs:   jobs,
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	if s.cfg.RetryInterval > 0 {
		s.every(ctx, s.cfg.RetryInterval, s.RetryPending)
	}
	if s.cfg.ReconcileInterval > 0 {
		s.every(ctx, s.cfg.ReconcileInterval, s.Reconcile)
	}
	s.logger.Info("Pool scheduler started", map[string]interface{}{
		"retry_interval":     s.cfg.RetryInterval.String(),
		"retry_batch_size":   s.cfg.RetryBatchSize,
		"reconcile_interval": s.cfg.ReconcileInterval.String(),
	})
}

// Stop halts the jobs and waits for a run in progress to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Pool scheduler stopped", nil)
}

func (s *Scheduler) every(ctx context.Context, interval time.Duration, job func(context.Context)) {
	stop := s.stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				job(ctx)
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RetryPending runs one batch of pending refund retries.
func (s *Scheduler) RetryPending(ctx context.Context) {
	res, err := s.jobs.RetryPendingReleases(ctx, s.cfg.RetryBatchSize, s.now())
	if err != nil {
		s.logger.Error("Pending release retry failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if res.Nothing() {
		return
	}
	s.logger.Info("Pending releases retried", map[string]interface{}{
		"succeeded": res.Succeeded,
		"pending":   res.Pending,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
	})
}

// Reconcile replays the ledger and logs any discrepancy.
func (s *Scheduler) Reconcile(ctx context.Context) {
	report, err := s.jobs.Reconcile(ctx)
	if err != nil {
		s.logger.Error("Pool reconciliation failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if !report.OK() {
		s.logger.Error("Pool ledger out of balance", map[string]interface{}{
			"entries":    len(report.Discrepancies),
			"payments":   len(report.Payments),
			"recorded":   report.Balance.String(),
			"recomputed": report.Recomputed.String(),
		})
	}
}
