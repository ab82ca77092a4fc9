package buildrun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scripture-rag/backend/internal/storage/models"
)

type recorder struct {
	runs []models.BuildRun
}

func (r *recorder) RecordBuild(ctx context.Context, run *models.BuildRun) error {
	r.runs = append(r.runs, *run)
	return nil
}

func TestRunRecordsStartAndFinish(t *testing.T) {
	rec := &recorder{}
	run := Start(context.Background(), rec, models.BuildKindSimilarity)
	run.Finish(context.Background(), 12, nil)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, models.BuildStatusRunning, rec.runs[0].Status)
	assert.Nil(t, rec.runs[0].FinishedAt)

	done := rec.runs[1]
	assert.Equal(t, run.ID(), done.ID)
	assert.Equal(t, models.BuildStatusSucceeded, done.Status)
	assert.Equal(t, 12, done.EdgesBuilt)
	assert.NotNil(t, done.FinishedAt)
	assert.NotEmpty(t, run.StartedAt())
}

func TestRunRecordsFailure(t *testing.T) {
	rec := &recorder{}
	run := Start(context.Background(), rec, models.BuildKindEmbeddings)
	run.Finish(context.Background(), 0, errors.New("upstream timeout"))

	done := rec.runs[len(rec.runs)-1]
	assert.Equal(t, models.BuildStatusFailed, done.Status)
	assert.Equal(t, "upstream timeout", done.Error)
}

func TestRunWithoutRecorder(t *testing.T) {
	run := Start(context.Background(), nil, models.BuildKindGraphExport)
	assert.NotPanics(t, func() { run.Finish(context.Background(), 3, nil) })
}
