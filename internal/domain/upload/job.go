package upload

import "time"

// JobKind names the pipeline pass a job runs.
type JobKind string

const (
	JobValidate JobKind = "validate"
	JobProcess  JobKind = "process"
)

// Job asks a worker to run one pass of an upload.
type Job struct {
	Kind       JobKind   `json:"kind"`
	UploadID   string    `json:"upload_id"`
	TenantID   string    `json:"tenant_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob builds the job for pass kind of u.
func NewJob(kind JobKind, u *Upload, now time.Time) Job {
	return Job{Kind: kind, UploadID: u.ID, TenantID: u.TenantID, EnqueuedAt: now.UTC()}
}
