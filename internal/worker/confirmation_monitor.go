// internal/worker/confirmation_monitor.go
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// PendingRefresher is satisfied by usecase.Reconciler.
type PendingRefresher interface {
	RefreshPending(ctx context.Context, limit int) (int, error)
}

type MonitorConfig struct {
	Schedule  string // cron spec, e.g. "@every 30s"
	BatchSize int
	Timeout   time.Duration
}

// ConfirmationMonitor polls pending transactions on a schedule. Read paths
// reconcile on their own; this only keeps idle rows moving.
type ConfirmationMonitor struct {
	reconciler PendingRefresher
	cfg        MonitorConfig
	logger     *zap.Logger

	mu        sync.Mutex
	cron      *cron.Cron
	isRunning bool
}

func NewConfirmationMonitor(reconciler PendingRefresher, cfg MonitorConfig, logger *zap.Logger) *ConfirmationMonitor {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 30s"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger))
	return &ConfirmationMonitor{
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
	}
}

// Start registers the job and starts the scheduler.
func (m *ConfirmationMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		m.logger.Warn("Confirmation monitor is already running")
		return nil
	}

	if _, err := m.cron.AddFunc(m.cfg.Schedule, m.RunOnce); err != nil {
		m.logger.Error("Failed to add cron job", zap.Error(err))
		return err
	}

	m.cron.Start()
	m.isRunning = true

	m.logger.Info("Confirmation monitor started",
		zap.String("schedule", m.cfg.Schedule),
		zap.Int("batch_size", m.cfg.BatchSize))
	return nil
}

// Stop stops scheduling and waits for a running job to finish.
func (m *ConfirmationMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isRunning {
		return
	}

	<-m.cron.Stop().Done()
	m.isRunning = false
	m.logger.Info("Confirmation monitor stopped")
}

func (m *ConfirmationMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}

// RunOnce reconciles one batch.
func (m *ConfirmationMonitor) RunOnce() {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	finalized, err := m.reconciler.RefreshPending(ctx, m.cfg.BatchSize)
	if err != nil {
		m.logger.Error("Failed to refresh pending transactions", zap.Error(err))
		return
	}

	if finalized > 0 {
		m.logger.Info("Pending transactions finalized",
			zap.Int("count", finalized),
			zap.Duration("duration", time.Since(startTime)))
	}
}
