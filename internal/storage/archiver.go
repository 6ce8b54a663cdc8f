package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultArchiveTimeout = 10 * time.Second

type UploadWriter interface {
	InsertUpload(ctx context.Context, coll Collection, rec UploadRecord) error
}

type ArchiverOption func(*Archiver)

// WithFailureHook is called once per upload record that could not be written.
func WithFailureHook(hook func(coll Collection)) ArchiverOption {
	return func(a *Archiver) {
		a.onFailure = hook
	}
}

// Archiver writes upload records in the background. A failed write is logged
// and never reaches the request that produced the record.
type Archiver struct {
	writer    UploadWriter
	timeout   time.Duration
	logger    *zap.Logger
	onFailure func(coll Collection)

	pending sync.WaitGroup
}

func NewArchiver(writer UploadWriter, timeout time.Duration, logger *zap.Logger, opts ...ArchiverOption) *Archiver {
	if timeout <= 0 {
		timeout = DefaultArchiveTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Archiver{
		writer:  writer,
		timeout: timeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive starts writing rec and returns a channel that yields the write
// error, if any, and is then closed. Callers may ignore it. The write outlives
// cancellation of ctx.
func (a *Archiver) Archive(ctx context.Context, coll Collection, rec UploadRecord) <-chan error {
	done := make(chan error, 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		defer close(done)

		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()

		if err := a.writer.InsertUpload(writeCtx, coll, rec); err != nil {
			a.logger.Error("failed to archive upload",
				zap.String("collection", string(coll)),
				zap.String("cv_filename", rec.CVFilename),
				zap.String("batch_id", rec.BatchID),
				zap.Error(err),
			)
			if a.onFailure != nil {
				a.onFailure(coll)
			}
			done <- err
		}
	}()

	return done
}

// Wait blocks until every started write has finished or ctx is done.
func (a *Archiver) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		a.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
