// Command migrate applies the goose migrations under migrations/ to the
// database named by DATABASE_URL (read from the environment or a .env file).
//
//	migrate up              apply all pending migrations
//	migrate up-to 1         apply up to version 1
//	migrate down            roll back the latest migration
//	migrate down-to 0       roll back to version 0
//	migrate status          list migrations and when each was applied
//	migrate version         print the current schema version
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

type options struct {
	databaseURL string
	dir         string
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the gymops database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = "migrations"
	}
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres connection string")
	root.PersistentFlags().StringVar(&opts.dir, "dir", dir, "migrations directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, _ []string) error {
				res, err := p.Up(ctx)
				printResults(w, res...)
				return err
			}),
		},
		&cobra.Command{
			Use:   "up-to VERSION",
			Short: "Apply migrations up to and including VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, args []string) error {
				v, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				res, err := p.UpTo(ctx, v)
				printResults(w, res...)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, _ []string) error {
				res, err := p.Down(ctx)
				if res != nil {
					printResults(w, res)
				}
				return err
			}),
		},
		&cobra.Command{
			Use:   "down-to VERSION",
			Short: "Roll back migrations newer than VERSION",
			Args:  cobra.ExactArgs(1),
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, args []string) error {
				v, err := parseVersion(args[0])
				if err != nil {
					return err
				}
				res, err := p.DownTo(ctx, v)
				printResults(w, res...)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and their state",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, _ []string) error {
				statuses, err := p.Status(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED\tFILE")
				for _, st := range statuses {
					applied := "-"
					if !st.AppliedAt.IsZero() {
						applied = st.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
				}
				return tw.Flush()
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: opts.run(func(ctx context.Context, p *goose.Provider, w io.Writer, _ []string) error {
				v, err := p.GetDBVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, v)
				return nil
			}),
		},
	)
	return root
}

type action func(ctx context.Context, p *goose.Provider, w io.Writer, args []string) error

// run opens the database and a goose provider around fn.
func (o *options) run(fn action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if o.databaseURL == "" {
			return errors.New("DATABASE_URL or --database-url is required")
		}
		db, err := sql.Open("postgres", o.databaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		p, err := goose.NewProvider(goose.DialectPostgres, db, os.DirFS(o.dir))
		if err != nil {
			return fmt.Errorf("load migrations from %s: %w", o.dir, err)
		}
		return fn(ctx, p, cmd.OutOrStdout(), args)
	}
}

func parseVersion(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid version %q", s)
	}
	return v, nil
}

func printResults(w io.Writer, results ...*goose.MigrationResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "no migrations to apply")
		return
	}
	for _, r := range results {
		state := "OK"
		if r.Error != nil {
			state = "FAILED"
		}
		fmt.Fprintf(w, "%-6s %s %s (%s)\n", state, r.Direction, r.Source.Path, r.Duration.Round(time.Millisecond))
	}
}
