package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"

	types "github.com/turtacn/molingest/pkg/types/upload"
)

const uploadsPath = "/api/v1/uploads"

// Upload statuses as reported by the API.
const (
	StatusInitiated        = "initiated"
	StatusValidating       = "validating"
	StatusValidationFailed = "validation_failed"
	StatusAwaitingConfirm  = "awaiting_confirm"
	StatusCancelled        = "cancelled"
	StatusProcessing       = "processing"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

// UntilReviewable are the statuses a client waits for after Create.
var UntilReviewable = []string{StatusAwaitingConfirm, StatusValidationFailed, StatusCancelled, StatusFailed}

// UntilFinished are the statuses a client waits for after Confirm.
var UntilFinished = []string{StatusCompleted, StatusFailed, StatusCancelled}

// UploadsClient wraps /api/v1/uploads.
type UploadsClient struct {
	client *Client
}

// Create sends a new file. opts may be nil.
func (u *UploadsClient) Create(ctx context.Context, filename string, content io.Reader, opts *types.CreateOptions) (*types.Upload, error) {
	if filename == "" || content == nil {
		return nil, fmt.Errorf("molingest: filename and content are required")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if opts != nil {
		fields := map[string]string{
			types.FormName:            opts.Name,
			types.FormFileType:        opts.FileType,
			types.FormDuplicateAction: opts.DuplicateAction,
		}
		if opts.SimilarityThreshold != nil {
			fields[types.FormSimilarityThreshold] = strconv.FormatFloat(*opts.SimilarityThreshold, 'f', -1, 64)
		}
		if opts.ColumnMapping != nil {
			b, err := json.Marshal(opts.ColumnMapping)
			if err != nil {
				return nil, fmt.Errorf("failed to encode column mapping: %w", err)
			}
			fields[types.FormColumnMapping] = string(b)
		}
		for k, v := range lo.PickBy(fields, func(_, v string) bool { return v != "" }) {
			if err := mw.WriteField(k, v); err != nil {
				return nil, err
			}
		}
	}
	fw, err := mw.CreateFormFile(types.FormFile, filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var out types.Upload
	if err := u.client.postMultipart(ctx, uploadsPath, &buf, mw.FormDataContentType(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns the upload with its live progress.
func (u *UploadsClient) Get(ctx context.Context, id string) (*types.Upload, error) {
	var out types.Upload
	if err := u.client.get(ctx, itemPath(id, ""), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *UploadsClient) Progress(ctx context.Context, id string) (*types.Progress, error) {
	var out types.Progress
	if err := u.client.get(ctx, itemPath(id, "/progress"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Errors returns one page of row errors. A zero limit takes the server
// default.
func (u *UploadsClient) Errors(ctx context.Context, id string, offset, limit int) (*types.RowErrorPage, error) {
	q := url.Values{}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := itemPath(id, "/errors")
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out types.RowErrorPage
	if err := u.client.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *UploadsClient) ErrorSummary(ctx context.Context, id string) ([]types.CodeCount, error) {
	var out []types.CodeCount
	if err := u.client.get(ctx, itemPath(id, "/errors/summary"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Summary is available once the upload has completed.
func (u *UploadsClient) Summary(ctx context.Context, id string) (*types.Summary, error) {
	var out types.Summary
	if err := u.client.get(ctx, itemPath(id, "/summary"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Confirm starts insertion of a validated upload.
func (u *UploadsClient) Confirm(ctx context.Context, id string) (*types.Upload, error) {
	var out types.Upload
	if err := u.client.post(ctx, itemPath(id, "/confirm"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (u *UploadsClient) Cancel(ctx context.Context, id string) (*types.Upload, error) {
	var out types.Upload
	if err := u.client.post(ctx, itemPath(id, "/cancel"), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Wait polls Get every interval until the upload reaches one of statuses.
func (u *UploadsClient) Wait(ctx context.Context, id string, statuses []string, interval ...time.Duration) (*types.Upload, error) {
	every := 2 * time.Second
	if len(interval) > 0 && interval[0] > 0 {
		every = interval[0]
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		up, err := u.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if lo.Contains(statuses, up.Status) {
			return up, nil
		}
		select {
		case <-ctx.Done():
			return up, ctx.Err()
		case <-ticker.C:
		}
	}
}

func itemPath(id, suffix string) string {
	return uploadsPath + "/" + url.PathEscape(id) + suffix
}
