package handlers

import (
	"github.com/samber/lo"

	app "github.com/turtacn/molingest/internal/application/upload"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

func toUpload(u *domain.Upload, p *domain.Progress) types.Upload {
	out := types.Upload{
		ID:                  u.ID,
		Name:                u.Name,
		FileType:            string(u.FileType),
		Status:              string(u.Status),
		DuplicateAction:     string(u.DuplicateAction),
		SimilarityThreshold: u.SimilarityThreshold,
		ErrorMessage:        u.ErrorMessage,
		CreatedBy:           u.CreatedBy,
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
		ValidatedAt:         u.ValidatedAt,
		ConfirmedAt:         u.ConfirmedAt,
		CompletedAt:         u.CompletedAt,
		ExpiresAt:           u.ExpiresAt,
	}
	if m := u.ColumnMapping; m != nil {
		out.ColumnMapping = &types.ColumnMapping{SMILES: m.SMILES, Name: m.Name, ExternalID: m.ExternalID}
	}
	if f := u.File; f != nil {
		// the storage location stays internal
		out.File = &types.File{
			OriginalFilename: f.OriginalFilename,
			ContentType:      f.ContentType,
			SizeBytes:        f.SizeBytes,
			SHA256:           f.SHA256,
		}
	}
	if p != nil {
		prog := toProgress(p)
		out.Progress = &prog
	}
	return out
}

func toProgress(p *domain.Progress) types.Progress {
	return types.Progress{
		TotalRows:        p.TotalRows,
		ProcessedRows:    p.ProcessedRows,
		ValidRows:        p.ValidRows,
		InvalidRows:      p.InvalidRows,
		DuplicateExact:   p.DuplicateExact,
		DuplicateSimilar: p.DuplicateSimilar,
		Phase:            p.Phase,
		Percent:          p.PercentComplete(),
		StartedAt:        p.StartedAt,
		UpdatedAt:        p.UpdatedAt,
	}
}

func toRowErrorPage(page *app.RowErrorPage) types.RowErrorPage {
	return types.RowErrorPage{
		Errors: lo.Map(page.Errors, func(e domain.RowError, _ int) types.RowError {
			return types.RowError{
				RowNumber:           e.RowNumber,
				Code:                string(e.Code),
				Message:             e.Message,
				RawData:             e.RawData,
				FieldName:           e.FieldName,
				DuplicateInChIKey:   e.DuplicateInChIKey,
				DuplicateSimilarity: e.DuplicateSimilarity,
			}
		}),
		Total:  page.Total,
		Offset: page.Offset,
		Limit:  page.Limit,
	}
}

func toCodeCounts(counts []domain.CodeCount) []types.CodeCount {
	return lo.Map(counts, func(c domain.CodeCount, _ int) types.CodeCount {
		return types.CodeCount{Code: string(c.Code), Count: c.Count}
	})
}

func toSummary(s *domain.ResultSummary) types.Summary {
	return types.Summary{
		MoleculesCreated:          s.MoleculesCreated,
		MoleculesUpdated:          s.MoleculesUpdated,
		MoleculesSkipped:          s.MoleculesSkipped,
		ErrorsCount:               s.ErrorsCount,
		ExactDuplicatesFound:      s.ExactDuplicatesFound,
		SimilarDuplicatesFound:    s.SimilarDuplicatesFound,
		ProcessingDurationSeconds: s.ProcessingDurationSeconds,
		CreatedAt:                 s.CreatedAt,
	}
}
