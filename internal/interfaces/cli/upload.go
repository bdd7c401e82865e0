package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/turtacn/molingest/pkg/client"
	"github.com/turtacn/molingest/pkg/errors"
	types "github.com/turtacn/molingest/pkg/types/upload"
)

const defaultPollInterval = 2 * time.Second

// settledStatuses are the states an upload rests in until someone acts.
var settledStatuses = lo.Union(client.UntilReviewable, client.UntilFinished)

type createOptions struct {
	name            string
	fileType        string
	duplicateAction string
	threshold       float64
	smilesColumn    string
	nameColumn      string
	idColumn        string
	wait            bool
	confirm         bool
	waitTimeout     time.Duration
	pollInterval    time.Duration
}

type errorsOptions struct {
	offset  int
	limit   int
	summary bool
}

// NewUploadCmd creates the upload command group.
func NewUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "upload",
		Aliases: []string{"uploads", "up"},
		Short:   "Create and manage molecule uploads",
		Long:    "Upload molecule files to the server, review validation results and confirm or cancel the insertion.",
	}
	cmd.AddCommand(
		newUploadCreateCmd(),
		newUploadStatusCmd(),
		newUploadConfirmCmd(),
		newUploadCancelCmd(),
		newUploadErrorsCmd(),
		newUploadSummaryCmd(),
	)
	return cmd
}

func newUploadCreateCmd() *cobra.Command {
	opts := &createOptions{}
	cmd := &cobra.Command{
		Use:   "create FILE",
		Short: "Upload a molecule file for validation",
		Example: `  molingest upload create library.sdf --tenant acme
  molingest upload create hits.csv --smiles-column structure --id-column compound_id --wait
  molingest upload create batch.smi --duplicate-action update --threshold 0.9 --wait --confirm`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUploadCreate(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "display name of the upload (default: file name)")
	f.StringVar(&opts.fileType, "file-type", "", "sdf, csv or smiles (default: detected by the server)")
	f.StringVar(&opts.duplicateAction, "duplicate-action", "skip", "what to do with duplicate rows: skip, update or error")
	f.Float64Var(&opts.threshold, "threshold", -1, "similarity threshold in [0,1]; 0 disables the near-duplicate check (default: server setting)")
	f.StringVar(&opts.smilesColumn, "smiles-column", "", "CSV column holding the SMILES")
	f.StringVar(&opts.nameColumn, "name-column", "", "CSV column holding the molecule name")
	f.StringVar(&opts.idColumn, "id-column", "", "CSV column holding the external identifier")
	f.BoolVar(&opts.wait, "wait", false, "wait until validation has finished")
	f.BoolVar(&opts.confirm, "confirm", false, "confirm once validation passes and wait for insertion (implies --wait)")
	f.DurationVar(&opts.waitTimeout, "wait-timeout", 30*time.Minute, "maximum time to wait")
	f.DurationVar(&opts.pollInterval, "poll-interval", defaultPollInterval, "progress polling interval")
	return cmd
}

func runUploadCreate(cmd *cobra.Command, path string, opts *createOptions) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	c, err := cliCtx.RemoteClient()
	if err != nil {
		return err
	}

	createOpts, err := opts.toCreateOptions()
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeNotFound, "cannot open upload file")
	}
	defer f.Close()

	ctx, cancel := cliCtx.WithTimeout(cmd.Context())
	up, err := c.Uploads().Create(ctx, filepath.Base(path), f, createOpts)
	cancel()
	if err != nil {
		return err
	}
	cliCtx.Logger.Debug(fmt.Sprintf("upload %s created", up.ID))

	if !opts.wait && !opts.confirm {
		return PrintResult(cmd, uploadView{up})
	}

	waitCtx, waitCancel := cliCtx.waitContext(cmd, opts.waitTimeout)
	defer waitCancel()

	up, err = c.Uploads().Wait(waitCtx, up.ID, client.UntilReviewable, opts.pollInterval)
	if err != nil {
		return err
	}
	if !opts.confirm || up.Status != client.StatusAwaitingConfirm {
		return PrintResult(cmd, uploadView{up})
	}

	if _, err = c.Uploads().Confirm(waitCtx, up.ID); err != nil {
		return err
	}
	up, err = c.Uploads().Wait(waitCtx, up.ID, client.UntilFinished, opts.pollInterval)
	if err != nil {
		return err
	}
	return PrintResult(cmd, uploadView{up})
}

func (o *createOptions) toCreateOptions() (*types.CreateOptions, error) {
	out := &types.CreateOptions{
		Name:            o.name,
		FileType:        strings.ToLower(o.fileType),
		DuplicateAction: strings.ToLower(o.duplicateAction),
	}
	if o.threshold >= 0 {
		if o.threshold > 1 {
			return nil, errors.InvalidParam("threshold must be within [0,1]").WithDetail(strconv.FormatFloat(o.threshold, 'f', -1, 64))
		}
		t := o.threshold
		out.SimilarityThreshold = &t
	}
	if o.smilesColumn != "" || o.nameColumn != "" || o.idColumn != "" {
		if o.smilesColumn == "" {
			return nil, errors.InvalidParam("--smiles-column is required when mapping columns")
		}
		out.ColumnMapping = &types.ColumnMapping{
			SMILES:     o.smilesColumn,
			Name:       o.nameColumn,
			ExternalID: o.idColumn,
		}
	}
	return out, nil
}

// waitContext bounds polling by --wait-timeout rather than --timeout.
func (c *CLIContext) waitContext(cmd *cobra.Command, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), limit)
}

func newUploadStatusCmd() *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:     "status ID",
		Aliases: []string{"get", "show"},
		Short:   "Show the status and progress of an upload",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := cliCtx.RemoteClient()
			if err != nil {
				return err
			}
			if watch {
				up, err := c.Uploads().Wait(cmd.Context(), args[0], settledStatuses, interval)
				if err != nil {
					return err
				}
				return PrintResult(cmd, uploadView{up})
			}
			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()
			up, err := c.Uploads().Get(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, uploadView{up})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the upload stops moving")
	cmd.Flags().DurationVar(&interval, "poll-interval", defaultPollInterval, "progress polling interval")
	return cmd
}

func newUploadConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm ID",
		Short: "Confirm a validated upload and start insertion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], "confirmed", func(c *client.Client, cliCtx *CLIContext) (*types.Upload, error) {
				ctx, cancel := cliCtx.WithTimeout(cmd.Context())
				defer cancel()
				return c.Uploads().Confirm(ctx, args[0])
			})
		},
	}
}

func newUploadCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel an upload before insertion starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTransition(cmd, args[0], "cancelled", func(c *client.Client, cliCtx *CLIContext) (*types.Upload, error) {
				ctx, cancel := cliCtx.WithTimeout(cmd.Context())
				defer cancel()
				return c.Uploads().Cancel(ctx, args[0])
			})
		},
	}
}

func runTransition(cmd *cobra.Command, id, verb string, call func(*client.Client, *CLIContext) (*types.Upload, error)) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	c, err := cliCtx.RemoteClient()
	if err != nil {
		return err
	}
	up, err := call(c, cliCtx)
	if err != nil {
		return err
	}
	if cliCtx.OutputFormat == "json" {
		return PrintResult(cmd, up)
	}
	PrintSuccess(cmd, fmt.Sprintf("upload %s %s (status %s)", id, verb, colorStatus(up.Status)))
	return nil
}

func newUploadErrorsCmd() *cobra.Command {
	opts := &errorsOptions{}
	cmd := &cobra.Command{
		Use:   "errors ID",
		Short: "List row errors of an upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := cliCtx.RemoteClient()
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()

			if opts.summary {
				counts, err := c.Uploads().ErrorSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return PrintResult(cmd, codeCountsView(counts))
			}
			page, err := c.Uploads().Errors(ctx, args[0], opts.offset, opts.limit)
			if err != nil {
				return err
			}
			return PrintResult(cmd, errorPageView{page})
		},
	}
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "number of errors to skip")
	cmd.Flags().IntVar(&opts.limit, "limit", 50, "maximum errors to return (server caps at 500)")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "show counts per error code instead of rows")
	return cmd
}

func newUploadSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary ID",
		Short: "Show the result summary of a completed upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			c, err := cliCtx.RemoteClient()
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()
			s, err := c.Uploads().Summary(ctx, args[0])
			if err != nil {
				return err
			}
			return PrintResult(cmd, summaryView{s})
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Views
// ─────────────────────────────────────────────────────────────────────────────

type uploadView struct{ *types.Upload }

func (v uploadView) TableHeaders() []string {
	return []string{"ID", "Status", "Type", "Rows", "Valid", "Invalid", "Exact Dup", "Similar Dup", "Progress"}
}

func (v uploadView) TableRows() [][]string {
	p := v.progress()
	return [][]string{{
		v.ID,
		colorStatus(v.Status),
		v.FileType,
		strconv.Itoa(p.TotalRows),
		strconv.Itoa(p.ValidRows),
		strconv.Itoa(p.InvalidRows),
		strconv.Itoa(p.DuplicateExact),
		strconv.Itoa(p.DuplicateSimilar),
		fmt.Sprintf("%.0f%%", p.Percent),
	}}
}

func (v uploadView) progress() types.Progress {
	if v.Progress == nil {
		return types.Progress{}
	}
	return *v.Progress
}

func (v uploadView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Upload:   %s\n", v.ID)
	if v.Name != "" {
		fmt.Fprintf(&b, "Name:     %s\n", v.Name)
	}
	fmt.Fprintf(&b, "Status:   %s\n", colorStatus(v.Status))
	fmt.Fprintf(&b, "Type:     %s\n", v.FileType)
	if v.File != nil {
		fmt.Fprintf(&b, "File:     %s (%d bytes)\n", v.File.OriginalFilename, v.File.SizeBytes)
	}
	if v.Progress != nil {
		p := v.Progress
		fmt.Fprintf(&b, "Phase:    %s %.0f%% (%d/%d rows)\n", p.Phase, p.Percent, p.ProcessedRows, p.TotalRows)
		fmt.Fprintf(&b, "Valid:    %d\n", p.ValidRows)
		fmt.Fprintf(&b, "Invalid:  %d\n", p.InvalidRows)
		fmt.Fprintf(&b, "Exact:    %d duplicates\n", p.DuplicateExact)
		fmt.Fprintf(&b, "Similar:  %d duplicates\n", p.DuplicateSimilar)
	}
	if v.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error:    %s\n", color.RedString(v.ErrorMessage))
	}
	fmt.Fprintf(&b, "Expires:  %s\n", v.ExpiresAt.Format(time.RFC3339))
	return b.String()
}

type errorPageView struct{ *types.RowErrorPage }

func (v errorPageView) TableHeaders() []string {
	return []string{"Row", "Code", "Field", "Message", "Duplicate Of"}
}

func (v errorPageView) TableRows() [][]string {
	return lo.Map(v.Errors, func(e types.RowError, _ int) []string {
		return []string{strconv.Itoa(e.RowNumber), e.Code, e.FieldName, e.Message, duplicateOf(e)}
	})
}

func (v errorPageView) String() string {
	var b strings.Builder
	for _, e := range v.Errors {
		fmt.Fprintf(&b, "row %d: %s: %s", e.RowNumber, color.YellowString(e.Code), e.Message)
		if d := duplicateOf(e); d != "" {
			fmt.Fprintf(&b, " (duplicate of %s)", d)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "showing %d of %d errors from offset %d\n", len(v.Errors), v.Total, v.Offset)
	return b.String()
}

func duplicateOf(e types.RowError) string {
	switch {
	case e.DuplicateInChIKey != "" && e.DuplicateSimilarity != nil:
		return fmt.Sprintf("%s @ %.3f", e.DuplicateInChIKey, *e.DuplicateSimilarity)
	case e.DuplicateInChIKey != "":
		return e.DuplicateInChIKey
	default:
		return ""
	}
}

type codeCountsView []types.CodeCount

func (v codeCountsView) TableHeaders() []string { return []string{"Code", "Count"} }

func (v codeCountsView) TableRows() [][]string {
	return lo.Map(v, func(c types.CodeCount, _ int) []string {
		return []string{c.Code, strconv.Itoa(c.Count)}
	})
}

func (v codeCountsView) String() string {
	if len(v) == 0 {
		return "no row errors\n"
	}
	var b strings.Builder
	for _, c := range v {
		fmt.Fprintf(&b, "%-28s %d\n", c.Code, c.Count)
	}
	return b.String()
}

type summaryView struct{ *types.Summary }

func (v summaryView) TableHeaders() []string {
	return []string{"Created", "Updated", "Skipped", "Errors", "Exact Dup", "Similar Dup", "Duration"}
}

func (v summaryView) TableRows() [][]string {
	return [][]string{{
		strconv.Itoa(v.MoleculesCreated),
		strconv.Itoa(v.MoleculesUpdated),
		strconv.Itoa(v.MoleculesSkipped),
		strconv.Itoa(v.ErrorsCount),
		strconv.Itoa(v.ExactDuplicatesFound),
		strconv.Itoa(v.SimilarDuplicatesFound),
		fmt.Sprintf("%.1fs", v.ProcessingDurationSeconds),
	}}
}

func (v summaryView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Created:  %s\n", color.GreenString(strconv.Itoa(v.MoleculesCreated)))
	fmt.Fprintf(&b, "Updated:  %d\n", v.MoleculesUpdated)
	fmt.Fprintf(&b, "Skipped:  %d\n", v.MoleculesSkipped)
	fmt.Fprintf(&b, "Errors:   %d\n", v.ErrorsCount)
	fmt.Fprintf(&b, "Exact:    %d duplicates\n", v.ExactDuplicatesFound)
	fmt.Fprintf(&b, "Similar:  %d duplicates\n", v.SimilarDuplicatesFound)
	fmt.Fprintf(&b, "Duration: %.1fs\n", v.ProcessingDurationSeconds)
	return b.String()
}
