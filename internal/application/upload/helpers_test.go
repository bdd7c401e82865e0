package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/molingest/internal/application/upload/ingest"
	"github.com/turtacn/molingest/internal/domain/molecule"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/database/memory"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/internal/intelligence/chemistry"
	"github.com/turtacn/molingest/pkg/errors"
)

const testTenant = "tenant-a"

// memFiles is an in-memory FileStorage.
type memFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFiles() *memFiles { return &memFiles{files: make(map[string][]byte)} }

func (m *memFiles) Save(_ context.Context, r io.Reader, filename, contentType string) (*domain.StoredFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	path := "uploads/" + uuid.NewString() + "/" + filename
	m.mu.Lock()
	m.files[path] = data
	m.mu.Unlock()
	return &domain.StoredFile{
		OriginalFilename: filename,
		ContentType:      contentType,
		SizeBytes:        int64(len(data)),
		StorageBackend:   "memory",
		StoragePath:      path,
		SHA256:           hex.EncodeToString(sum[:]),
	}, nil
}

func (m *memFiles) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, errors.New(errors.ErrCodeStorageNotFound, "file not found").WithDetail(path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memFiles) Delete(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	delete(m.files, path)
	return ok, nil
}

func (m *memFiles) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok
}

// recordingDispatcher keeps the jobs it was handed, including the ones it
// fails with err.
type recordingDispatcher struct {
	jobs []domain.Job
	err  error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, job domain.Job) error {
	d.jobs = append(d.jobs, job)
	return d.err
}

// recordingPublisher keeps published event types in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// pipeline wires a service and processor over in-memory adapters. Jobs are
// recorded, not run, so tests drive each pass explicitly.
type pipeline struct {
	repo       *memory.UploadRepository
	store      *memory.MoleculeStore
	files      *memFiles
	events     *recordingPublisher
	dispatcher *recordingDispatcher
	clock      *clock
	normalizer molecule.Normalizer
	service    *Service
	processor  *Processor
}

func newPipeline(t *testing.T, cfg ProcessorConfig) *pipeline {
	t.Helper()
	return newPipelineWith(t, chemistry.NewBuiltin(), cfg)
}

func newPipelineWith(t *testing.T, n molecule.Normalizer, cfg ProcessorConfig) *pipeline {
	t.Helper()
	p := &pipeline{
		repo:       memory.NewUploadRepository(),
		store:      memory.NewMoleculeStore(),
		files:      newMemFiles(),
		events:     &recordingPublisher{},
		dispatcher: &recordingDispatcher{},
		clock:      newClock(),
		normalizer: n,
	}
	log := logging.NewNopLogger()
	p.service = NewService(ServiceDeps{
		Repo:       p.repo,
		Files:      p.files,
		Dispatcher: p.dispatcher,
		Events:     p.events,
		Logger:     log,
		Now:        p.clock.Now,
	}, ServiceConfig{ExpiryTTL: time.Hour})
	p.processor = NewProcessor(ProcessorDeps{
		Repo:       p.repo,
		Store:      p.store,
		Files:      p.files,
		Normalizer: n,
		Indexes:    SharedIndex(NewStoreIndex(p.store, molecule.FingerprintMorgan)),
		Events:     p.events,
		Logger:     log,
		Now:        p.clock.Now,
	}, cfg)
	return p
}

func (p *pipeline) create(t *testing.T, filename, content string, mutate func(*CreateRequest)) *domain.Upload {
	t.Helper()
	req := CreateRequest{
		TenantID: testTenant,
		Filename: filename,
		Content:  bytes.NewBufferString(content),
	}
	if mutate != nil {
		mutate(&req)
	}
	u, err := p.service.Create(context.Background(), req)
	require.NoError(t, err)
	return u
}

func (p *pipeline) status(t *testing.T, id string) *domain.Upload {
	t.Helper()
	u, err := p.repo.Get(context.Background(), testTenant, id)
	require.NoError(t, err)
	return u
}

// seed stores a molecule for smiles the way an earlier upload would have.
func (p *pipeline) seed(t *testing.T, smiles string) *molecule.Molecule {
	t.Helper()
	ctx := context.Background()
	v := NewValidator(p.normalizer, ValidatorConfig{})
	res, err := v.Validate(ctx, ingest.RawRow{RowNumber: 1, Structure: smiles, Format: molecule.FormatSMILES})
	require.NoError(t, err)
	require.True(t, res.Valid, res.Detail)

	m, err := molecule.NewMolecule(testTenant, res.CanonicalSMILES, res.InChI, res.InChIKey, res.SMILESHash)
	require.NoError(t, err)
	for _, ft := range storedFingerprints {
		fp, err := p.normalizer.Fingerprint(ctx, res.Structure, ft, molecule.FingerprintParams{})
		require.NoError(t, err)
		m.SetFingerprint(fp)
	}
	id, err := p.store.Create(ctx, m)
	require.NoError(t, err)
	return p.store.Get(id)
}

func float(v float64) *float64 { return &v }
