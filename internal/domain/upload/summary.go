package upload

import (
	"math"
	"time"
)

// ResultSummary is written exactly once when an upload completes insertion.
type ResultSummary struct {
	UploadID                  string    `json:"upload_id"`
	MoleculesCreated          int       `json:"molecules_created"`
	MoleculesUpdated          int       `json:"molecules_updated"`
	MoleculesSkipped          int       `json:"molecules_skipped"`
	ErrorsCount               int       `json:"errors_count"`
	ExactDuplicatesFound      int       `json:"exact_duplicates_found"`
	SimilarDuplicatesFound    int       `json:"similar_duplicates_found"`
	ProcessingDurationSeconds float64   `json:"processing_duration_seconds"`
	CreatedAt                 time.Time `json:"created_at"`
}

// SetDuration stores d in seconds rounded to two decimals.
func (s *ResultSummary) SetDuration(d time.Duration) {
	s.ProcessingDurationSeconds = math.Round(d.Seconds()*100) / 100
}

// Total is the number of rows the insertion pass accounted for.
func (s *ResultSummary) Total() int {
	return s.MoleculesCreated + s.MoleculesUpdated + s.MoleculesSkipped + s.ErrorsCount
}
