package upload

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const (
	DefaultSweepInterval  = 10 * time.Minute
	defaultSweepBatchSize = 200
	sweepListRetries      = 3
)

// Locker guards a sweep so only one process runs it at a time.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// SweeperDeps are the collaborators of a Sweeper. Lock may be nil when a
// single process runs the sweep.
type SweeperDeps struct {
	Repo     domain.Repository
	Files    FileStorage
	Lock     Locker
	Events   domain.EventPublisher
	Observer Observer
	Logger   logging.Logger
	Now      func() time.Time
}

type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Sweeper cancels uploads left unconfirmed past their expiry and releases
// their files.
type Sweeper struct {
	lifecycle
	files     FileStorage
	lock      Locker
	interval  time.Duration
	batchSize int
}

func NewSweeper(deps SweeperDeps, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatchSize
	}
	log := deps.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Sweeper{
		lifecycle: newLifecycle(deps.Repo, deps.Events, deps.Observer, log.Named("sweeper"), deps.Now),
		files:     deps.Files,
		lock:      deps.Lock,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", logging.Duration("interval", s.interval))
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("expiry sweep failed", logging.Err(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce cancels the uploads that have expired and returns how many it
// cancelled. It does nothing when another process holds the lock.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeCacheError, "acquire sweep lock")
		}
		if !ok {
			s.logger.Debug("sweep lock held elsewhere")
			return 0, nil
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release sweep lock", logging.Err(err))
			}
		}()
	}

	cancelled := 0
	for {
		batch, err := s.listExpired(ctx)
		if err != nil {
			return cancelled, err
		}
		progressed := 0
		for _, u := range batch {
			if err := ctx.Err(); err != nil {
				return cancelled, err
			}
			if err := s.cancel(ctx, u, s.files, "expired"); err != nil {
				if errors.IsConflict(err) {
					// confirmed or cancelled since it was listed
					continue
				}
				s.logger.Warn("failed to expire upload", logging.UploadID(u.ID), logging.Err(err))
				continue
			}
			progressed++
			s.observer.UploadExpired()
			s.logger.Info("upload expired", logging.UploadID(u.ID), logging.TenantID(u.TenantID))
		}
		cancelled += progressed
		if len(batch) < s.batchSize || progressed == 0 {
			return cancelled, nil
		}
	}
}

func (s *Sweeper) listExpired(ctx context.Context) ([]*domain.Upload, error) {
	var batch []*domain.Upload
	op := func() error {
		var err error
		batch, err = s.repo.ListExpired(ctx, s.now(), s.batchSize)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), sweepListRetries), ctx)
	err := backoff.RetryNotify(op, b, func(err error, d time.Duration) {
		s.logger.Warn("listing expired uploads failed, retrying", logging.Err(err), logging.Duration("in", d))
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "list expired uploads")
	}
	return batch, nil
}
