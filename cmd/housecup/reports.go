package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler/jobs"
	"github.com/housecup/points-engine/pkg/logger"
)

var errDriftFound = errors.New("ledger audit found drift")

var (
	auditJSON bool

	rankHouse    string
	rankLimit    int
	rankJSON     bool
	rankSnapshot bool
)

func init() {
	rootCmd.AddCommand(auditCmd, rankCmd)

	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print the report as JSON")

	rankCmd.Flags().StringVar(&rankHouse, "house", "", "rank only the students of this house")
	rankCmd.Flags().IntVarP(&rankLimit, "limit", "n", 10, "number of students to show")
	rankCmd.Flags().BoolVar(&rankJSON, "json", false, "print the leaderboards as JSON")
	rankCmd.Flags().BoolVar(&rankSnapshot, "snapshot", false, "store the current rankings as the new trend baseline")
}

// withApp loads the config and opens the store without the event bus, for
// one-shot commands. Logs go to stderr so the report owns stdout.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(logger.Options{
		Level:   cfg.Observability.LogLevel,
		Format:  logger.Format(cfg.Observability.LogFormat),
		Env:     string(cfg.App.Environment),
		Output:  cmd.ErrOrStderr(),
		Service: cfg.App.Name,
	})

	a, err := bootstrap(cmd.Context(), cfg, log, false)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUDIT
// ══════════════════════════════════════════════════════════════════════════════

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Rebuild the aggregates from the ledger and report drift",
	Long: `Rebuild every balance, counter and house total from the award and purchase
ledgers and compare them with the stored values. The store is only read.
The command exits non-zero when any drift is found.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			report, err := a.queries.AuditLedger(ctx)
			if err != nil {
				return err
			}
			if err := printAudit(cmd.OutOrStdout(), report, auditJSON); err != nil {
				return err
			}
			if !report.Clean() {
				return fmt.Errorf("%w: %d counter(s)", errDriftFound, len(report.Drifts))
			}
			return nil
		})
	},
}

func printAudit(w io.Writer, report *query.AuditReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, report)
	}
	fmt.Fprintf(w, "checked %d award(s) and %d purchase(s) at %s\n",
		report.Awards, report.Purchases, report.CheckedAt.Format("2006-01-02 15:04:05 MST"))
	if report.Clean() {
		fmt.Fprintln(w, "ledger is consistent")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tID\tCOUNTER\tSTORED\tEXPECTED")
	for _, d := range report.Drifts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", d.Kind, d.ID, d.Counter, d.Stored, d.Expected)
	}
	return tw.Flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// RANK
// ══════════════════════════════════════════════════════════════════════════════

var rankCmd = &cobra.Command{
	Use:   "rank",
	Short: "Print the house and student leaderboards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			houses, err := a.queries.HouseLeaderboard(ctx)
			if err != nil {
				return err
			}
			students, err := a.queries.StudentLeaderboard(ctx, query.StudentLeaderboardQuery{
				HouseID: rankHouse,
				Limit:   rankLimit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rankJSON {
				if err := writeJSON(out, []*query.LeaderboardResult{houses, students}); err != nil {
					return err
				}
			} else {
				printLeaderboard(out, "HOUSES", houses)
				fmt.Fprintln(out)
				printLeaderboard(out, "STUDENTS", students)
			}

			if rankSnapshot {
				job := jobs.NewSnapshotLeaderboardJob(a.queries, a.snapshots, nil, a.log, a.cfg.Scheduler.JobTimeout)
				if err := job.Run(ctx); err != nil {
					return err
				}
				a.log.Info("trend baseline stored", slog.String("job", job.Name()))
			}
			return nil
		})
	},
}

func printLeaderboard(w io.Writer, title string, res *query.LeaderboardResult) {
	fmt.Fprintf(w, "%s (%s, %d total)\n", title, res.Scope, res.Total)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tNAME\tPOINTS\tTREND")
	for _, e := range res.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", e.Rank, e.Name, e.Score, e.Trend)
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
