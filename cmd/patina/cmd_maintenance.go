package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NicabarNimble/patina-sub001/internal/knowledge"
	"github.com/NicabarNimble/patina-sub001/internal/reasoning"
	"github.com/NicabarNimble/patina-sub001/internal/store"
)

func newConfidenceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confidence [evidence-count]",
		Short: "Print the confidence the rules assign to an evidence count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("evidence count must be an integer: %w", err)
			}
			engine, err := reasoning.NewEngine(
				reasoning.WithPolicy(cfg.Reasoning.Policy()),
				reasoning.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			c, err := engine.CalculateConfidence(n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", c)
			return nil
		},
	}
}

// storeCheck pairs a store name with its maintenance methods.
type storeCheck struct {
	name    string
	check   func(context.Context) (store.ConsistencyReport, error)
	reindex func(context.Context) (store.ReindexReport, error)
}

func maintained(svc *knowledge.Service) []storeCheck {
	return []storeCheck{
		{"observations", svc.Observations().Check, svc.Observations().Reindex},
		{"beliefs", svc.Beliefs().Check, svc.Beliefs().Reindex},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare each record store with its vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUnrepairedService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				out := cmd.OutOrStdout()
				diverged := false
				for _, s := range maintained(svc) {
					report, err := s.check(ctx)
					if err != nil {
						return fmt.Errorf("check %s: %w", s.name, err)
					}
					printReport(out, s.name, report)
					if !report.Consistent() {
						diverged = true
					}
				}
				if diverged {
					fmt.Fprintln(out, "Run `patina reindex` to rebuild the vector indexes.")
				}
				return nil
			})
		},
	}
}

func printReport(out io.Writer, name string, r store.ConsistencyReport) {
	status := "ok"
	if !r.Consistent() {
		status = "DIVERGED"
	}
	fmt.Fprintf(out, "%-12s %-8s rows=%d vectors=%d missing=%d stale=%d\n",
		name, status, r.Rows, r.Vectors, len(r.MissingVectors), r.StaleVectors)
	for _, id := range r.Unrecoverable {
		fmt.Fprintf(out, "  unrecoverable: %s\n", id)
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector indexes from the embeddings kept in SQLite",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUnrepairedService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				out := cmd.OutOrStdout()
				for _, s := range maintained(svc) {
					report, err := s.reindex(ctx)
					if err != nil {
						return fmt.Errorf("reindex %s: %w", s.name, err)
					}
					fmt.Fprintf(out, "%-12s indexed=%d skipped=%d\n", s.name, report.Indexed, len(report.Skipped))
					if len(report.Skipped) > 0 {
						logger.Warn("rows without a usable embedding",
							zap.String("store", s.name), zap.Strings("ids", report.Skipped))
					}
				}
				return nil
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show observation and belief counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				observations, err := svc.Observations().Count(ctx)
				if err != nil {
					return err
				}
				beliefs, err := svc.Beliefs().Count(ctx)
				if err != nil {
					return err
				}
				byKind, err := svc.Observations().KindCounts(ctx)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "observations: %d\n", observations)
				kinds := make([]string, 0, len(byKind))
				for k := range byKind {
					kinds = append(kinds, k)
				}
				sort.Strings(kinds)
				for _, k := range kinds {
					fmt.Fprintf(out, "  %-12s %d\n", k, byKind[k])
				}
				fmt.Fprintf(out, "beliefs: %d\n", beliefs)
				return nil
			})
		},
	}
}
