package db

import (
	"context"

	"go.uber.org/zap"

	"fluxserve/fluxruntime"
)

// Recorder stores every finished request the Service reports. Writes go
// through an AsyncWriter so the gate is never held by SQLite; when the
// queue is full the row is written inline.
type Recorder struct {
	repo   *Repository
	writer *AsyncWriter[Generation]
	logger *zap.Logger
}

var _ fluxruntime.Recorder = (*Recorder)(nil)

// NewRecorder returns a started Recorder. Call Close to flush it.
func NewRecorder(repo *Repository, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{repo: repo, logger: logger}
	r.writer = NewAsyncWriter(func(ctx context.Context, g Generation) error {
		_, err := repo.InsertGeneration(ctx, g)
		return err
	}, DefaultQueueCapacity, logger.Named("history"))
	r.writer.Start()
	return r
}

// Record implements fluxruntime.Recorder.
func (r *Recorder) Record(ctx context.Context, rec fluxruntime.GenerationRecord) error {
	g := GenerationFromRecord(rec)
	if r.writer.Write(g) {
		return nil
	}
	_, err := r.repo.InsertGeneration(ctx, g)
	return err
}

// Pending returns the number of rows not yet written.
func (r *Recorder) Pending() int {
	return r.writer.Pending()
}

// Close flushes queued rows. It has the core.ShutdownFunc signature.
func (r *Recorder) Close(ctx context.Context) error {
	return r.writer.Stop(ctx)
}
