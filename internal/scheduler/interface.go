package scheduler

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_services.go -package=mocks github.com/ameliarose/hub/internal/scheduler RunService,HistoryPruner

// RunService is the slice of the engine the scheduler drives.
type RunService interface {
	Run(key string) (string, error)
}

// HistoryPruner trims old run history during scheduler ticks.
type HistoryPruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}
