package upload

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/pkg/errors"
)

func TestStatus_TerminalStates(t *testing.T) {
	terminal := map[Status]bool{
		StatusValidationFailed: true,
		StatusCancelled:        true,
		StatusCompleted:        true,
		StatusFailed:           true,
	}
	for _, s := range AllStatuses {
		assert.Equal(t, terminal[s], s.IsTerminal(), s)
	}
	assert.False(t, Status("bogus").IsTerminal())
}

func TestStatus_TransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusInitiated:       {StatusValidating},
		StatusValidating:      {StatusAwaitingConfirm, StatusValidationFailed, StatusFailed},
		StatusAwaitingConfirm: {StatusProcessing, StatusCancelled},
		StatusProcessing:      {StatusCompleted, StatusFailed},
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestUpload_NoTransitionLeavesTerminalState(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			continue
		}
		for _, target := range AllStatuses {
			u := &Upload{Status: s}
			err := u.TransitionTo(target, now)
			require.Error(t, err)
			assert.Equal(t, s, u.Status)
		}
	}
}

func TestUpload_InvalidTransitionError(t *testing.T) {
	u := &Upload{Status: StatusInitiated}
	err := u.TransitionTo(StatusCompleted, time.Now())

	var ite *InvalidTransitionError
	require.True(t, stderrors.As(err, &ite))
	assert.Equal(t, StatusInitiated, ite.From)
	assert.Equal(t, StatusCompleted, ite.To)
	assert.Equal(t, errors.ErrCodeUploadInvalidTransition, ite.Code())
	assert.True(t, errors.IsConflict(err))
	assert.Contains(t, err.Error(), "initiated to completed")
	assert.Equal(t, StatusInitiated, u.Status)
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("awaiting_confirm")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingConfirm, s)

	_, err = ParseStatus("AWAITING")
	assert.Error(t, err)
}

func TestErrStaleStatus_MatchesWithDetail(t *testing.T) {
	err := ErrStaleStatus.WithDetail("upload u-1 expected validating")
	assert.True(t, errors.Is(err, ErrStaleStatus))
	assert.True(t, errors.IsConflict(err))
	assert.False(t, errors.Is(err, ErrNotFound))
}
