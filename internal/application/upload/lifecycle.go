package upload

import (
	"context"
	"time"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// lifecycle applies persisted state transitions and announces them. The
// service, the processor and the sweeper all move uploads through it.
type lifecycle struct {
	repo     domain.Repository
	events   domain.EventPublisher
	observer Observer
	logger   logging.Logger
	now      func() time.Time
}

func newLifecycle(repo domain.Repository, events domain.EventPublisher, obs Observer, log logging.Logger, now func() time.Time) lifecycle {
	if events == nil {
		events = domain.NopPublisher{}
	}
	if obs == nil {
		obs = NopObserver{}
	}
	if now == nil {
		now = time.Now
	}
	return lifecycle{repo: repo, events: events, observer: obs, logger: log, now: now}
}

// transition moves u to target in memory and in the repository. When the
// stored status changed underneath, u is restored and ErrStaleStatus returned.
func (l *lifecycle) transition(ctx context.Context, u *domain.Upload, target domain.Status, payload map[string]interface{}) error {
	before := *u
	if err := u.TransitionTo(target, l.now()); err != nil {
		return err
	}
	if err := l.repo.UpdateStatus(ctx, u, before.Status); err != nil {
		*u = before
		return err
	}
	l.observer.UploadTransition(string(before.Status), string(target))
	if et, ok := domain.EventFor(target); ok {
		l.publish(ctx, et, u, payload)
	}
	return nil
}

// fail records cause as the upload's error and moves it to FAILED when the
// lifecycle allows. It runs on a context detached from ctx's cancellation so
// a shutting-down worker still leaves a terminal status behind.
func (l *lifecycle) fail(ctx context.Context, u *domain.Upload, cause error) {
	ctx = context.WithoutCancel(ctx)
	before := *u
	if err := u.Fail(cause.Error(), l.now()); err != nil {
		l.logger.Warn("upload cannot be marked failed",
			logging.UploadID(u.ID), logging.String("status", string(u.Status)), logging.Err(cause))
		return
	}
	if err := l.repo.UpdateStatus(ctx, u, before.Status); err != nil {
		*u = before
		l.logger.Error("failed to persist upload failure", logging.UploadID(u.ID), logging.Err(err))
		return
	}
	l.observer.UploadTransition(string(before.Status), string(domain.StatusFailed))
	l.publish(ctx, domain.EventFailed, u, map[string]interface{}{"error": u.ErrorMessage})
}

func (l *lifecycle) publish(ctx context.Context, et domain.EventType, u *domain.Upload, payload map[string]interface{}) {
	if err := l.events.Publish(ctx, domain.NewEvent(et, u, l.now(), payload)); err != nil {
		l.logger.Warn("lifecycle event not delivered",
			logging.UploadID(u.ID), logging.String("event", string(et)), logging.Err(err))
	}
}

// progress loads the upload's progress row, creating an empty one when the
// row is missing.
func (l *lifecycle) progress(ctx context.Context, uploadID string) (*domain.Progress, error) {
	p, err := l.repo.GetProgress(ctx, uploadID)
	if err == nil {
		return p, nil
	}
	if errors.IsNotFound(err) {
		return domain.NewProgress(uploadID, l.now()), nil
	}
	return nil, err
}

// cancel moves u to CANCELLED, closes its progress and releases the stored
// file. A file that cannot be removed is only logged.
func (l *lifecycle) cancel(ctx context.Context, u *domain.Upload, files FileStorage, reason string) error {
	if err := l.transition(ctx, u, domain.StatusCancelled, map[string]interface{}{"reason": reason}); err != nil {
		return err
	}
	if prog, err := l.progress(ctx, u.ID); err == nil {
		tracker := domain.NewTracker(prog, l.repo, 0, l.now)
		if err := tracker.Complete(ctx, domain.PhaseCancelled); err != nil {
			l.logger.Warn("failed to close progress of cancelled upload", logging.UploadID(u.ID), logging.Err(err))
		}
	}
	if u.File != nil && u.File.StoragePath != "" && files != nil {
		removed, err := files.Delete(ctx, u.File.StoragePath)
		if err != nil {
			l.logger.Warn("failed to release upload file",
				logging.UploadID(u.ID), logging.String("path", u.File.StoragePath), logging.Err(err))
		} else if !removed {
			l.logger.Debug("upload file already gone", logging.UploadID(u.ID))
		}
	}
	return nil
}
