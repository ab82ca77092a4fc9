// Package buildrun tracks offline build jobs: a run id shared by every
// artifact the job writes, a durable run record and build metrics.
package buildrun

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scripture-rag/backend/internal/metrics"
	"github.com/scripture-rag/backend/internal/storage/models"
	"github.com/scripture-rag/backend/pkg/logger"
)

type Recorder interface {
	RecordBuild(ctx context.Context, run *models.BuildRun) error
}

type Run struct {
	rec   Recorder
	model models.BuildRun
}

// Start opens a run of the given kind. rec may be nil.
func Start(ctx context.Context, rec Recorder, kind string) *Run {
	r := &Run{
		rec: rec,
		model: models.BuildRun{
			ID:        uuid.New().String(),
			Kind:      kind,
			Status:    models.BuildStatusRunning,
			StartedAt: time.Now().UTC(),
		},
	}
	r.record(ctx)
	logger.Info("Build started", zap.String("kind", kind), zap.String("build_id", r.model.ID))
	return r
}

func (r *Run) ID() string { return r.model.ID }

// StartedAt is the run start formatted as RFC 3339, used as the artifact
// processing date.
func (r *Run) StartedAt() string {
	return r.model.StartedAt.Format(time.RFC3339)
}

// Finish closes the run, recording the edge count or the failure.
func (r *Run) Finish(ctx context.Context, edges int, err error) {
	finished := time.Now().UTC()
	r.model.FinishedAt = &finished
	r.model.EdgesBuilt = edges
	r.model.Status = models.BuildStatusSucceeded
	if err != nil {
		r.model.Status = models.BuildStatusFailed
		r.model.Error = err.Error()
	}
	r.record(ctx)

	metrics.BuildDuration.WithLabelValues(r.model.Kind).Observe(finished.Sub(r.model.StartedAt).Seconds())
	if err != nil {
		logger.Error("Build failed",
			zap.String("kind", r.model.Kind),
			zap.String("build_id", r.model.ID),
			zap.Error(err),
		)
		return
	}
	metrics.EdgesBuilt.WithLabelValues(r.model.Kind).Add(float64(edges))
	logger.Info("Build finished",
		zap.String("kind", r.model.Kind),
		zap.String("build_id", r.model.ID),
		zap.Int("edges", edges),
		zap.Duration("duration", finished.Sub(r.model.StartedAt)),
	)
}

func (r *Run) record(ctx context.Context) {
	if r.rec == nil {
		return
	}
	run := r.model
	if err := r.rec.RecordBuild(ctx, &run); err != nil {
		logger.Warn("Failed to record build run", zap.String("build_id", run.ID), zap.Error(err))
	}
}
