package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/turtacn/molingest/internal/application/upload"
	"github.com/turtacn/molingest/internal/application/upload/ingest"
	"github.com/turtacn/molingest/internal/bootstrap"
	domain "github.com/turtacn/molingest/internal/domain/upload"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

const localTenant = "local"

// NewDetectCmd reports the file type the pipeline would assign to a file.
func NewDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect FILE",
		Short: "Detect the molecule file type of a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := readSample(args[0])
			if err != nil {
				return err
			}
			ft, err := ingest.DetectFileType(filepath.Base(args[0]), sample)
			if err != nil {
				return err
			}
			res := detectResult{File: args[0], FileType: string(ft)}
			if ft == domain.FileTypeCSV {
				if header, herr := ingest.ReadHeader(sample); herr == nil {
					res.Columns = header
					if m, merr := ingest.InferColumnMapping(header); merr == nil {
						res.Mapping = m
					}
				}
			}
			return PrintResult(cmd, res)
		},
	}
}

func readSample(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNotFound, "cannot open file")
	}
	defer f.Close()
	buf := make([]byte, ingest.SniffSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "cannot read file")
	}
	return buf[:n], nil
}

type detectResult struct {
	File     string                `json:"file"`
	FileType string                `json:"file_type"`
	Columns  []string              `json:"columns,omitempty"`
	Mapping  *domain.ColumnMapping `json:"column_mapping,omitempty"`
}

func (r detectResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n", r.File, color.GreenString(r.FileType))
	if len(r.Columns) > 0 {
		fmt.Fprintf(&b, "columns: %s\n", strings.Join(r.Columns, ", "))
	}
	if r.Mapping != nil {
		fmt.Fprintf(&b, "smiles column: %s\n", r.Mapping.SMILES)
		if r.Mapping.Name != "" {
			fmt.Fprintf(&b, "name column: %s\n", r.Mapping.Name)
		}
		if r.Mapping.ExternalID != "" {
			fmt.Fprintf(&b, "id column: %s\n", r.Mapping.ExternalID)
		}
	}
	return b.String()
}

type validateOptions struct {
	fileType     string
	threshold    float64
	smilesColumn string
	nameColumn   string
	idColumn     string
	showErrors   int
}

// NewValidateCmd runs the validation pass in-process against an empty
// in-memory registry. Only duplicates inside the file itself are reported.
func NewValidateCmd() *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Dry-run validation of a local file without a server",
		Example: `  molingest validate library.sdf
  molingest validate hits.csv --smiles-column structure --errors 100 -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.fileType, "file-type", "", "sdf, csv or smiles (default: detected)")
	f.Float64Var(&opts.threshold, "threshold", -1, "similarity threshold in [0,1]; 0 disables the near-duplicate check")
	f.StringVar(&opts.smilesColumn, "smiles-column", "", "CSV column holding the SMILES")
	f.StringVar(&opts.nameColumn, "name-column", "", "CSV column holding the molecule name")
	f.StringVar(&opts.idColumn, "id-column", "", "CSV column holding the external identifier")
	f.IntVar(&opts.showErrors, "errors", 20, "number of row errors to print")
	return cmd
}

func runValidate(cmd *cobra.Command, path string, opts *validateOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	log := cliCtx.Logger.Named("validate")

	cfg := *cliCtx.Config
	cfg.Upload.Dispatch = bootstrap.DispatchSync
	inf, err := bootstrap.OpenLocal(&cfg, log)
	if err != nil {
		return err
	}
	defer inf.Close()

	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	defer cancel()
	p, err := inf.NewPipeline(ctx)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeNotFound, "cannot open file")
	}
	defer f.Close()
	var size int64
	if st, serr := f.Stat(); serr == nil {
		size = st.Size()
	}

	req := upload.CreateRequest{
		TenantID: localTenant,
		Filename: filepath.Base(path),
		Size:     size,
		Content:  f,
		FileType: strings.ToLower(opts.fileType),
	}
	if opts.threshold >= 0 {
		t := opts.threshold
		req.SimilarityThreshold = &t
	}
	if opts.smilesColumn != "" {
		req.ColumnMapping = &domain.ColumnMapping{SMILES: opts.smilesColumn, Name: opts.nameColumn, ExternalID: opts.idColumn}
	}

	u, err := p.Service.Create(ctx, req)
	if err != nil {
		return err
	}
	log.Debug("dry run finished", logging.UploadID(u.ID))

	report := validationReport{File: path}
	if u, err = p.Service.Get(ctx, localTenant, u.ID); err != nil {
		return err
	}
	report.Status = string(u.Status)
	report.FileType = string(u.FileType)
	report.Message = u.ErrorMessage
	if report.Progress, err = p.Service.Progress(ctx, localTenant, u.ID); err != nil {
		return err
	}
	if report.Codes, err = p.Service.ErrorSummary(ctx, localTenant, u.ID); err != nil {
		return err
	}
	if opts.showErrors > 0 {
		page, err := p.Service.ListRowErrors(ctx, localTenant, u.ID, 0, opts.showErrors)
		if err != nil {
			return err
		}
		report.Errors = page.Errors
		report.TotalErrors = page.Total
	}
	return PrintResult(cmd, report)
}

type validationReport struct {
	File        string             `json:"file"`
	FileType    string             `json:"file_type"`
	Status      string             `json:"status"`
	Message     string             `json:"error_message,omitempty"`
	Progress    *domain.Progress   `json:"progress"`
	Codes       []domain.CodeCount `json:"error_summary"`
	Errors      []domain.RowError  `json:"errors,omitempty"`
	TotalErrors int                `json:"total_errors"`
}

func (r validationReport) TableHeaders() []string {
	return []string{"Row", "Code", "Field", "Message"}
}

func (r validationReport) TableRows() [][]string {
	return lo.Map(r.Errors, func(e domain.RowError, _ int) []string {
		return []string{strconv.Itoa(e.RowNumber), string(e.Code), e.FieldName, e.Message}
	})
}

func (r validationReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "File:     %s (%s)\n", r.File, r.FileType)
	fmt.Fprintf(&b, "Status:   %s\n", colorStatus(r.Status))
	if r.Message != "" {
		fmt.Fprintf(&b, "Reason:   %s\n", color.RedString(r.Message))
	}
	if p := r.Progress; p != nil {
		fmt.Fprintf(&b, "Rows:     %d\n", p.TotalRows)
		fmt.Fprintf(&b, "Valid:    %d\n", p.ValidRows)
		fmt.Fprintf(&b, "Invalid:  %d\n", p.InvalidRows)
		fmt.Fprintf(&b, "Exact:    %d duplicates\n", p.DuplicateExact)
		fmt.Fprintf(&b, "Similar:  %d duplicates\n", p.DuplicateSimilar)
	}
	if len(r.Codes) > 0 {
		b.WriteString("\nErrors by code:\n")
		for _, c := range r.Codes {
			fmt.Fprintf(&b, "  %-28s %d\n", c.Code, c.Count)
		}
	}
	if len(r.Errors) > 0 {
		b.WriteString("\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "row %d: %s: %s\n", e.RowNumber, color.YellowString(string(e.Code)), e.Message)
		}
		if r.TotalErrors > len(r.Errors) {
			fmt.Fprintf(&b, "... %d more\n", r.TotalErrors-len(r.Errors))
		}
	}
	return b.String()
}
