package upload

import (
	"context"

	"golang.org/x/sync/errgroup"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
)

// JobRunner executes one pass of an upload. *Processor implements it.
type JobRunner interface {
	Run(ctx context.Context, job domain.Job) error
}

var _ JobRunner = (*Processor)(nil)

// SyncDispatcher runs each job before Dispatch returns. A failing pass is
// already recorded on the upload, so it is logged and not reported back to
// the caller.
type SyncDispatcher struct {
	Runner JobRunner
	Logger logging.Logger
}

func (d SyncDispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	if err := d.Runner.Run(ctx, job); err != nil && d.Logger != nil {
		d.Logger.Warn("upload pass failed",
			logging.UploadID(job.UploadID), logging.String("kind", string(job.Kind)), logging.Err(err))
	}
	return nil
}

// InlineDispatcher runs jobs on a bounded set of goroutines in this process.
// Jobs run on the dispatcher's context, not the request's, so they outlive
// the request that created them.
type InlineDispatcher struct {
	ctx    context.Context
	runner JobRunner
	logger logging.Logger
	group  errgroup.Group
}

func NewInlineDispatcher(ctx context.Context, runner JobRunner, workers int, log logging.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = 4
	}
	d := &InlineDispatcher{ctx: ctx, runner: runner, logger: log.Named("dispatch")}
	d.group.SetLimit(workers)
	return d
}

// Dispatch blocks while all workers are busy.
func (d *InlineDispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.group.Go(func() error {
		if err := d.runner.Run(d.ctx, job); err != nil {
			d.logger.Warn("upload pass failed",
				logging.UploadID(job.UploadID), logging.String("kind", string(job.Kind)), logging.Err(err))
		}
		return nil
	})
	return nil
}

// Wait blocks until every dispatched job has returned.
func (d *InlineDispatcher) Wait() {
	_ = d.group.Wait()
}
