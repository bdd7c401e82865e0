package upload

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	saved []Progress
}

func (s *recordingSink) SaveProgress(_ context.Context, p *Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, *p)
	return nil
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 5, 5, 5, 5, 5, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestTracker_FlushCadence(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	tr := NewTracker(NewProgress("u-1", time.Now()), sink, 3, fixedClock())

	require.NoError(t, tr.BeginPass(ctx, PhaseValidating))
	for i := 0; i < 7; i++ {
		require.NoError(t, tr.Record(ctx, RowOutcome{Valid: i%2 == 0}))
	}

	// BeginPass + two cadence flushes
	assert.Len(t, sink.saved, 3)
	last := sink.saved[len(sink.saved)-1]
	assert.Equal(t, 6, last.ProcessedRows)

	require.NoError(t, tr.Complete(ctx, PhaseAwaiting))
	final := sink.saved[len(sink.saved)-1]
	assert.Equal(t, 7, final.ProcessedRows)
	assert.Equal(t, 4, final.ValidRows)
	assert.Equal(t, 3, final.InvalidRows)
	assert.Equal(t, final.ProcessedRows, final.ValidRows+final.InvalidRows)
	assert.Equal(t, PhaseAwaiting, final.Phase)
}

func TestTracker_ProcessedNeverDecreasesWithinPass(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	tr := NewTracker(nil, sink, 1, fixedClock())
	require.NoError(t, tr.BeginPass(ctx, PhaseValidating))

	for i := 0; i < 20; i++ {
		require.NoError(t, tr.Record(ctx, RowOutcome{Valid: true, DupExact: i == 3, DupSimilar: i == 4}))
	}
	prev := -1
	for _, p := range sink.saved {
		assert.GreaterOrEqual(t, p.ProcessedRows, prev)
		prev = p.ProcessedRows
	}
	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.DuplicateExact)
	assert.Equal(t, 1, snap.DuplicateSimilar)

	require.NoError(t, tr.BeginPass(ctx, PhaseInserting))
	assert.Equal(t, 0, tr.Snapshot().ProcessedRows)
}

func TestTracker_TotalFixedOnce(t *testing.T) {
	tr := NewTracker(nil, nil, 0, nil)
	require.NoError(t, tr.SetTotal(10))
	require.NoError(t, tr.SetTotal(10))
	assert.Error(t, tr.SetTotal(11))

	resumed := NewTracker(&Progress{TotalRows: 10}, nil, 0, nil)
	assert.Error(t, resumed.SetTotal(9))
}

func TestProgress_PercentComplete(t *testing.T) {
	assert.Equal(t, 0.0, (&Progress{}).PercentComplete())
	assert.Equal(t, 33.3, (&Progress{TotalRows: 3, ProcessedRows: 1}).PercentComplete())
}

func TestRowErrorCode_Message(t *testing.T) {
	assert.Equal(t, "Molecule has no atoms", CodeNoAtoms.Message(""))
	assert.Equal(t, "Invalid chemical structure: unclosed ring 1", CodeInvalidStructure.Message("unclosed ring 1"))
	assert.Equal(t, "Unknown error: weird", RowErrorCode("weird").Message(""))
	assert.True(t, CodeDuplicateInBatch.IsDuplicate())
	assert.False(t, CodeTooLong.IsDuplicate())
}

func TestTruncateRaw(t *testing.T) {
	long := strings.Repeat("C", 150)
	out := TruncateRaw(map[string]string{"SMILES": long, "Name": "x"}, 100)
	assert.Equal(t, strings.Repeat("C", 100)+"...", out["SMILES"])
	assert.Equal(t, "x", out["Name"])
	assert.Nil(t, TruncateRaw(nil, 100))
}

func TestSortCodeCounts(t *testing.T) {
	cc := []CodeCount{{CodeTooLong, 1}, {CodeNoAtoms, 3}, {CodeInvalidStructure, 3}}
	SortCodeCounts(cc)
	assert.Equal(t, CodeInvalidStructure, cc[0].Code)
	assert.Equal(t, CodeNoAtoms, cc[1].Code)
	assert.Equal(t, CodeTooLong, cc[2].Code)
}

func TestResultSummary(t *testing.T) {
	s := &ResultSummary{MoleculesCreated: 5, MoleculesUpdated: 1, MoleculesSkipped: 2, ErrorsCount: 1}
	s.SetDuration(1234 * time.Millisecond)
	assert.Equal(t, 1.23, s.ProcessingDurationSeconds)
	assert.Equal(t, 9, s.Total())
}

func TestEventFor(t *testing.T) {
	et, ok := EventFor(StatusProcessing)
	require.True(t, ok)
	assert.Equal(t, EventConfirmed, et)

	_, ok = EventFor(StatusInitiated)
	assert.False(t, ok)

	u := &Upload{ID: "u", TenantID: "t", Status: StatusCompleted}
	e := NewEvent(EventCompleted, u, time.Now(), map[string]interface{}{"created": 3})
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), e))
}
