package data

import (
	"context"
	"time"

	"github.com/songzhibin97/shannon/internal/models"
)

// SnapshotStorage 组合估值快照的持久化
type SnapshotStorage interface {
	// SaveSnapshot stores one cycle's valuation
	SaveSnapshot(ctx context.Context, snap *models.PortfolioSnapshot) error

	// GetSnapshots retrieves snapshots of an exchange taken within [start, end]
	GetSnapshots(ctx context.Context, exchange string, start, end time.Time) ([]models.PortfolioSnapshot, error)

	Close() error
}
