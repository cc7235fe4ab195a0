package daemon

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/bus"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/scheduler"
	"github.com/matheus3301/wpptriage/internal/store"
)

// CleanupJobName identifies the retention job.
const CleanupJobName = "cleanup"

// NewScheduler registers the analysis job and, when retention is set, the
// cleanup job.
func NewScheduler(cfg config.Config, svc *analysis.Service, db *store.DB, loc *time.Location,
	b *bus.Bus, logger *zap.Logger) (*scheduler.Scheduler, error) {
	s := scheduler.New(loc, b, logger)
	if err := s.SetAnalysis(analysisJob(svc), cfg.Cron.Schedule, cfg.Cron.Enabled); err != nil {
		return nil, err
	}
	if cfg.Retention.Days > 0 {
		if err := s.AddJob(CleanupJobName, cfg.Retention.Schedule, cleanupJob(db, cfg.Retention.Days, logger)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func analysisJob(svc *analysis.Service) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := svc.Run(ctx, analysis.Request{})
		return err
	}
}

func cleanupJob(db *store.DB, days int, logger *zap.Logger) scheduler.Job {
	return func(context.Context) error {
		res, err := db.CleanupOldData(days)
		if err != nil {
			return err
		}
		logger.Info("old data removed",
			zap.Int("retention_days", days),
			zap.Int64("messages", res.Messages),
			zap.Int64("reports", res.Reports),
		)
		return nil
	}
}
