package workers

import (
	"context"
	"time"

	"eldervoice/internal/database"
	"eldervoice/internal/logger"

	"github.com/sirupsen/logrus"
)

// RetentionWorker prunes call history past the configured retention window.
// Calls live on only as audit entries; old ones have no operational value.
type RetentionWorker struct {
	db            *database.DB
	retentionDays int
	log           *logger.Logger
}

func NewRetentionWorker(db *database.DB, retentionDays int, log *logger.Logger) *RetentionWorker {
	return &RetentionWorker{
		db:            db,
		retentionDays: retentionDays,
		log:           log,
	}
}

func (rw *RetentionWorker) Name() string {
	return "call-history-retention"
}

func (rw *RetentionWorker) Interval() time.Duration {
	return 24 * time.Hour
}

func (rw *RetentionWorker) Run(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -rw.retentionDays)

	pruned, err := rw.db.PruneCallHistory(cutoff)
	if err != nil {
		return err
	}

	if pruned > 0 {
		rw.log.Info("Pruned old call history", logrus.Fields{
			"records": pruned,
			"cutoff":  cutoff.Format("2006-01-02"),
		})
	}
	return nil
}
