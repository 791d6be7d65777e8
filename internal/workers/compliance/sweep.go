// Package compliance runs the kernel's periodic integrity and reporting
// sweep, grounded on the teacher's wallet-provisioning Scheduler
// (robfig/cron/v3 driving a single recurring job with Start/Stop
// lifecycle methods) applied to the audit log's WORM hash chain instead
// of wallet provisioning retries.
package compliance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capkernel/kernel/internal/domain/entities"
	"github.com/capkernel/kernel/internal/domain/services/audit"
	"github.com/capkernel/kernel/internal/domain/services/capability"
)

// Sweeper periodically verifies the audit log's hash chain and reloads
// the capability broker's revocation set from durable storage, the same
// way a multi-instance deployment would need to resync in-memory state
// against what other instances have written.
type Sweeper struct {
	audit      *audit.Service
	capability *capability.Service
	logger     *zap.Logger
	cron       *cron.Cron
	entryID    cron.EntryID
	lastSwept  time.Time
}

func NewSweeper(auditSvc *audit.Service, capabilitySvc *capability.Service, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		audit:      auditSvc,
		capability: capabilitySvc,
		logger:     logger,
		cron:       cron.New(),
	}
}

// Start schedules the sweep to run at the given interval, expressed as a
// cron spec (e.g. "@every 1m") so callers can tune cadence from
// config.ComplianceConfig.SweepInterval without code changes.
func (s *Sweeper) Start(interval time.Duration) error {
	spec := "@every " + interval.String()
	entryID, err := s.cron.AddFunc(spec, s.runSweep)
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cron.Start()
	s.logger.Info("compliance sweep scheduled", zap.Duration("interval", interval))
	return nil
}

func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("compliance sweep stopped")
}

func (s *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	since := s.lastSwept
	until := time.Now()
	if since.IsZero() {
		since = until.Add(-24 * time.Hour)
	}

	result, err := s.audit.VerifyIntegrity(ctx, since, until)
	if err != nil {
		s.logger.Error("compliance sweep: integrity verification failed", zap.Error(err))
	} else if !result.Verified {
		s.logger.Error("compliance sweep: audit log tampering detected",
			zap.String("tampered_id", result.TamperedID),
			zap.String("broken_link_id", result.BrokenLinkID))
	} else {
		s.logger.Debug("compliance sweep: audit log integrity verified", zap.Time("since", since), zap.Time("until", until))
	}

	if err := s.capability.LoadRevocations(ctx); err != nil {
		s.logger.Error("compliance sweep: reloading revocation set failed", zap.Error(err))
	}

	s.lastSwept = until
}

// GenerateDailyReport builds a compliance report for the prior UTC day,
// intended to be called from the admin API rather than the cron loop
// itself so report generation stays on-demand.
func (s *Sweeper) GenerateDailyReport(ctx context.Context) (*entities.ComplianceReport, error) {
	now := time.Now().UTC()
	periodEnd := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	periodStart := periodEnd.Add(-24 * time.Hour)
	return s.audit.GenerateComplianceReport(ctx, periodStart, periodEnd)
}
