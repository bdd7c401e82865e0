package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/molingest/internal/bootstrap"
	"github.com/turtacn/molingest/internal/infrastructure/database/postgres"
	"github.com/turtacn/molingest/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molingest/pkg/errors"
)

// NewMigrateCmd manages the database schema.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the upload database schema",
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				if err := m.Down(steps); err != nil {
					return err
				}
				PrintSuccess(cmd, fmt.Sprintf("rolled back %d migration(s)", steps))
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					if err := m.Up(); err != nil {
						return err
					}
					PrintSuccess(cmd, "schema is up to date")
					return nil
				})
			},
		},
		down,
		&cobra.Command{
			Use:   "status",
			Short: "Show the applied schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(cmd, func(m *postgres.Migrator) error {
					version, dirty, err := m.Status()
					if err != nil {
						return err
					}
					return PrintResult(cmd, migrationStatus{Version: version, Dirty: dirty})
				})
			},
		},
	)
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	cliCtx, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	log := cliCtx.Logger.Named("migrate")
	conn, err := postgres.NewConnection(cliCtx.Config.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := postgres.NewMigrator(conn.DB(), log)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}

type migrationStatus struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
}

func (s migrationStatus) String() string {
	if s.Dirty {
		return fmt.Sprintf("version %d (dirty: a migration failed halfway, fix it and force the version)\n", s.Version)
	}
	return fmt.Sprintf("version %d\n", s.Version)
}

// NewSweepCmd runs one expiry pass against the configured backends.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire abandoned uploads once and exit",
		Long: "Marks uploads that were never confirmed within the expiry window as\n" +
			"cancelled and deletes their stored files.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()

			inf, err := bootstrap.Open(ctx, cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer inf.Close()

			n, err := inf.NewSweeper().SweepOnce(ctx)
			if err != nil {
				return err
			}
			cliCtx.Logger.Info("sweep finished", logging.Int("expired", n))
			PrintSuccess(cmd, fmt.Sprintf("%d upload(s) expired", n))
			return nil
		},
	}
}

// NewIndexCmd maintains the external similarity index.
func NewIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the similarity index",
	}

	var pageSize int
	backfill := &cobra.Command{
		Use:   "backfill",
		Short: "Copy a tenant's stored fingerprints into the milvus collection",
		Long: "Reads every fingerprint of the tenant from the molecule store and\n" +
			"upserts it into the collection. Needed once after switching\n" +
			"index.backend to milvus on a populated database.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			tenant, _ := cmd.Flags().GetString("tenant")
			if tenant == "" {
				return errors.InvalidParam("no tenant configured; pass --tenant or set " + envTenant)
			}
			if cliCtx.Config.Index.Backend != "milvus" {
				return errors.ErrInvalidConfig.WithDetail("index backfill needs index.backend milvus, got " + cliCtx.Config.Index.Backend)
			}
			if pageSize <= 0 {
				pageSize = cliCtx.Config.Index.SnapshotPageSize
			}

			ctx, cancel := cliCtx.WithTimeout(cmd.Context())
			defer cancel()
			inf, err := bootstrap.Open(ctx, cliCtx.Config, cliCtx.Logger)
			if err != nil {
				return err
			}
			defer inf.Close()

			n, err := inf.FingerprintIndex.Backfill(ctx, inf.Molecules, tenant, pageSize)
			if err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("%d fingerprint(s) indexed for tenant %s", n, tenant))
			return nil
		},
	}
	backfill.Flags().IntVar(&pageSize, "page-size", 0, "fingerprints per store page (default: index.snapshot_page_size)")

	cmd.AddCommand(backfill)
	return cmd
}
