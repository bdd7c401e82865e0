package upload

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

type fakeLock struct {
	held     bool
	err      error
	unlocked int
}

func (l *fakeLock) TryLock(context.Context) (bool, error) { return !l.held, l.err }
func (l *fakeLock) Unlock(context.Context) error          { l.unlocked++; return nil }

// flakyRepo fails ListExpired a set number of times.
type flakyRepo struct {
	domain.Repository
	failures int
	calls    int
}

func (r *flakyRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Upload, error) {
	r.calls++
	if r.calls <= r.failures {
		return nil, fmt.Errorf("connection refused")
	}
	return r.Repository.ListExpired(ctx, now, limit)
}

func newSweeperFor(p *pipeline, repo domain.Repository, lock Locker, batch int) *Sweeper {
	return NewSweeper(SweeperDeps{
		Repo:   repo,
		Files:  p.files,
		Lock:   lock,
		Events: p.events,
		Logger: logging.NewNopLogger(),
		Now:    p.clock.Now,
	}, SweeperConfig{BatchSize: batch})
}

func validated(t *testing.T, p *pipeline, n int) []*domain.Upload {
	t.Helper()
	out := make([]*domain.Upload, n)
	for i := range out {
		out[i] = p.create(t, fmt.Sprintf("f%d.smi", i), "CCO\n", nil)
		require.NoError(t, p.processor.RunValidation(context.Background(), out[i].ID))
	}
	return out
}

func TestSweeper_CancelsExpired(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	uploads := validated(t, p, 3)
	p.clock.Advance(2 * time.Hour)
	fresh := validated(t, p, 1)[0]

	lock := &fakeLock{}
	n, err := newSweeperFor(p, p.repo, lock, 2).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, lock.unlocked)

	for _, u := range uploads {
		assert.Equal(t, domain.StatusCancelled, p.status(t, u.ID).Status)
		assert.False(t, p.files.has(u.File.StoragePath))
	}
	// created after the clock moved, so still inside its window
	assert.Equal(t, domain.StatusAwaitingConfirm, p.status(t, fresh.ID).Status)
}

func TestSweeper_SkipsWhenLockHeld(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	validated(t, p, 1)
	p.clock.Advance(2 * time.Hour)

	lock := &fakeLock{held: true}
	n, err := newSweeperFor(p, p.repo, lock, 0).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, lock.unlocked)
}

func TestSweeper_LockError(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	_, err := newSweeperFor(p, p.repo, &fakeLock{err: fmt.Errorf("redis down")}, 0).SweepOnce(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCacheError))
}

func TestSweeper_RetriesListing(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	validated(t, p, 1)
	p.clock.Advance(2 * time.Hour)

	repo := &flakyRepo{Repository: p.repo, failures: 2}
	n, err := newSweeperFor(p, repo, nil, 0).SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, repo.calls)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	p := newPipeline(t, ProcessorConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, newSweeperFor(p, p.repo, nil, 0).Run(ctx))
}
