package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/satguru/tiffin/internal/app"
	"github.com/satguru/tiffin/internal/migration"
	"github.com/satguru/tiffin/internal/scheduler"
	"github.com/satguru/tiffin/internal/seeder"
	exportsvc "github.com/satguru/tiffin/internal/service/export"
	"github.com/satguru/tiffin/pkg/calendar"
)

// NewRootCommand builds the root tiffin CLI command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "tiffin",
		Short: "Satguru tiffin service and operations toolkit",
	}

	root.AddCommand(newStartCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSeedCmd())
	root.AddCommand(newWorkerCmd())
	root.AddCommand(newSchedulerCmd())
	root.AddCommand(newExportCmd())
	root.AddCommand(newImportCmd())

	return root
}

// Execute runs the tiffin CLI.
func Execute() error {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return err
	}
	return nil
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "start",
		Aliases: []string{"run"},
		Short:   "Run the HTTP service with the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Module)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			all, _ := cmd.Flags().GetBool("all")
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := mig.Down(ctx, steps, all); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migration steps to rollback")
	downCmd.Flags().Bool("all", false, "Rollback all applied migrations")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			var mig *migration.Migrator
			opts := fx.Options(app.Core, migration.Module, fx.Populate(&mig))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				st, err := mig.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current version %d, latest %d, pending %v\n", st.Current, st.Latest, st.Pending)
				return nil
			})
		},
	}

	cmd.AddCommand(upCmd, downCmd, statusCmd)
	return cmd
}

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the catalog and an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("admin-name")
			email, _ := cmd.Flags().GetString("admin-email")
			phone, _ := cmd.Flags().GetString("admin-phone")
			var seed *seeder.Seeder
			opts := fx.Options(app.Core, seeder.Module, fx.Populate(&seed))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				created, err := seed.Catalog(ctx)
				if err != nil {
					return err
				}
				if email != "" {
					if _, err := seed.Admin(ctx, name, email, phone); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seed data applied (%d catalog records)\n", created)
				return nil
			})
		},
	}
	cmd.Flags().String("admin-name", "Administrator", "Administrator display name")
	cmd.Flags().String("admin-email", "", "Administrator email; skipped when empty")
	cmd.Flags().String("admin-phone", "", "Administrator phone number")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run worker engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			application := fx.New(app.Worker)
			if err := application.Start(cmd.Context()); err != nil {
				return err
			}
			<-cmd.Context().Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return application.Stop(stopCtx)
		},
	})
	return cmd
}

func newSchedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and trigger recurring jobs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			opts := fx.Options(app.Jobs, fx.Populate(&sched))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "NAME\tSCHEDULE")
				for _, job := range sched.Jobs() {
					spec := job.Spec
					if spec == "" {
						spec = "(manual)"
					}
					fmt.Fprintf(w, "%s\t%s\n", job.Name, spec)
				}
				return w.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "run [job]",
		Short: "Run a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			opts := fx.Options(app.Jobs, fx.Populate(&sched))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				if err := sched.RunOnce(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export data",
	}
	ordersCmd := &cobra.Command{
		Use:   "orders",
		Short: "Export orders to CSV or XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatName, _ := cmd.Flags().GetString("format")
			out, _ := cmd.Flags().GetString("out")
			status, _ := cmd.Flags().GetString("status")
			day, _ := cmd.Flags().GetString("date")
			delivering, _ := cmd.Flags().GetBool("delivering")

			format, err := exportsvc.ParseFormat(formatName)
			if err != nil {
				return err
			}
			q := exportsvc.Query{DeliveringOnly: delivering}
			if status != "" {
				q.Filter.Statuses = strings.Split(status, ",")
			}
			if day != "" {
				if q.Date, err = calendar.Parse(day); err != nil {
					return err
				}
			}
			if out == "" {
				out = "orders." + string(format)
			}

			var exporter *exportsvc.Service
			opts := fx.Options(app.Core, fx.Populate(&exporter))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				sheet, err := exporter.Build(ctx, q)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := exportsvc.Write(f, format, sheet); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d orders to %s\n", len(sheet.Rows), out)
				return nil
			})
		},
	}
	ordersCmd.Flags().String("format", "csv", "Output format (csv or xlsx)")
	ordersCmd.Flags().String("out", "", "Output file (default orders.<format>)")
	ordersCmd.Flags().String("status", "", "Comma-separated order statuses")
	ordersCmd.Flags().String("date", "", "Date the delivery counters are computed for (YYYY-MM-DD)")
	ordersCmd.Flags().Bool("delivering", false, "Only orders with boxes due on the date")
	cmd.AddCommand(ordersCmd)
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import data",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "orders [file]",
		Short: "Import orders from a CSV or XLSX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var importer *exportsvc.Service
			opts := fx.Options(app.Core, fx.Populate(&importer))
			return runWithApp(cmd.Context(), opts, func(ctx context.Context) error {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				res, err := importer.Import(ctx, filepath.Base(args[0]), f, "cli")
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "created %d, updated %d, skipped %d\n", res.Created, res.Updated, res.Skipped)
				for _, rowErr := range res.Errors {
					fmt.Fprintf(out, "row %d: %s\n", rowErr.Row, rowErr.Message)
				}
				return nil
			})
		},
	})
	return cmd
}

func runWithApp(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	application := fx.New(opts, fx.NopLogger)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = application.Stop(stopCtx)
	}()
	return fn(ctx)
}
