package upload

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Phase labels reported through Progress.Phase.
const (
	PhaseInitializing = "initializing"
	PhaseValidating   = "validating"
	PhaseAwaiting     = "awaiting_confirm"
	PhaseInserting    = "inserting"
	PhaseCompleted    = "completed"
	PhaseFailed       = "failed"
	PhaseCancelled    = "cancelled"
)

// Progress holds the counters of the current pass.
type Progress struct {
	UploadID         string     `json:"upload_id"`
	TotalRows        int        `json:"total_rows"`
	ProcessedRows    int        `json:"processed_rows"`
	ValidRows        int        `json:"valid_rows"`
	InvalidRows      int        `json:"invalid_rows"`
	DuplicateExact   int        `json:"duplicate_exact"`
	DuplicateSimilar int        `json:"duplicate_similar"`
	Phase            string     `json:"phase"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NewProgress returns the empty progress created with an upload.
func NewProgress(uploadID string, now time.Time) *Progress {
	return &Progress{UploadID: uploadID, Phase: PhaseInitializing, UpdatedAt: now.UTC()}
}

// PercentComplete is processed/total as a percentage with one decimal.
func (p *Progress) PercentComplete() float64 {
	if p.TotalRows == 0 {
		return 0
	}
	pct := float64(p.ProcessedRows) / float64(p.TotalRows) * 100
	return float64(int(pct*10+0.5)) / 10
}

// ProgressSink persists snapshots written by a Tracker.
type ProgressSink interface {
	SaveProgress(ctx context.Context, p *Progress) error
}

// RowOutcome is what a tracker is told about one processed row.
type RowOutcome struct {
	Valid      bool
	DupExact   bool
	DupSimilar bool
}

// Tracker owns the Progress of one run and flushes it to a sink every
// flushEvery rows, on phase change and on completion. It is safe for use by
// one pipeline goroutine plus concurrent Snapshot readers.
type Tracker struct {
	mu         sync.Mutex
	p          Progress
	sink       ProgressSink
	flushEvery int
	sinceFlush int
	totalSet   bool
	now        func() time.Time
}

// NewTracker wraps an existing progress record. flushEvery <= 0 means 100.
func NewTracker(p *Progress, sink ProgressSink, flushEvery int, now func() time.Time) *Tracker {
	if flushEvery <= 0 {
		flushEvery = 100
	}
	if now == nil {
		now = time.Now
	}
	t := &Tracker{sink: sink, flushEvery: flushEvery, now: now}
	if p != nil {
		t.p = *p
		t.totalSet = p.TotalRows > 0
	}
	return t
}

// BeginPass resets per-pass counters, sets phase and flushes. TotalRows is
// kept because it is fixed once known.
func (t *Tracker) BeginPass(ctx context.Context, phase string) error {
	t.mu.Lock()
	now := t.now().UTC()
	t.p.ProcessedRows = 0
	t.p.ValidRows = 0
	t.p.InvalidRows = 0
	t.p.DuplicateExact = 0
	t.p.DuplicateSimilar = 0
	t.p.Phase = phase
	t.p.StartedAt = &now
	t.mu.Unlock()
	return t.Flush(ctx)
}

// SetTotal fixes TotalRows. Setting a different value a second time fails.
func (t *Tracker) SetTotal(total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.totalSet && t.p.TotalRows != total {
		return fmt.Errorf("upload progress: total rows already fixed at %d, got %d", t.p.TotalRows, total)
	}
	t.p.TotalRows = total
	t.totalSet = true
	return nil
}

// Record counts one processed row and flushes when the cadence is reached.
func (t *Tracker) Record(ctx context.Context, o RowOutcome) error {
	t.mu.Lock()
	t.p.ProcessedRows++
	if o.Valid {
		t.p.ValidRows++
	} else {
		t.p.InvalidRows++
	}
	if o.DupExact {
		t.p.DuplicateExact++
	}
	if o.DupSimilar {
		t.p.DuplicateSimilar++
	}
	t.sinceFlush++
	due := t.sinceFlush >= t.flushEvery
	t.mu.Unlock()

	if due {
		return t.Flush(ctx)
	}
	return nil
}

// Flush writes the current snapshot to the sink.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	t.p.UpdatedAt = t.now().UTC()
	snap := t.p
	t.sinceFlush = 0
	t.mu.Unlock()
	if t.sink == nil {
		return nil
	}
	return t.sink.SaveProgress(ctx, &snap)
}

// Complete sets the final phase and flushes.
func (t *Tracker) Complete(ctx context.Context, phase string) error {
	t.mu.Lock()
	t.p.Phase = phase
	t.mu.Unlock()
	return t.Flush(ctx)
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.p
}
