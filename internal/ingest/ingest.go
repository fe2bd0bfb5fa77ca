package ingest

import (
	"context"
	"time"

	"fleetguard/internal/engine"
	"fleetguard/internal/model"
)

// BatchProcessor is the part of the engine a telemetry source feeds.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, samples []model.TelemetrySample) engine.BatchResult
}

// BackoffSleep waits d, or returns false early when ctx is done.
func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
