package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NicabarNimble/patina-sub001/internal/knowledge"
	"github.com/NicabarNimble/patina-sub001/internal/store"
)

func newObserveCmd() *cobra.Command {
	var (
		kind        string
		source      string
		sourceType  string
		reliability float32
	)
	cmd := &cobra.Command{
		Use:   "observe [text]",
		Short: "Store an observation",
		Long: `Embeds the text and stores it as an observation of the given kind.

Example:
  patina observe --kind decision --source-type commit "sqlite holds the records"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta := store.Metadata{Source: source, SourceType: sourceType}
			if cmd.Flags().Changed("reliability") {
				if reliability < 0 || reliability > 1 {
					return fmt.Errorf("--reliability must be within [0,1], got %g", reliability)
				}
				meta.Reliability = store.Reliability(reliability)
			}
			content := strings.Join(args, " ")

			return withService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				id, err := svc.AddObservation(ctx, kind, content, meta)
				if err != nil {
					return err
				}
				if err := svc.Observations().Commit(ctx); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored observation %s (%s)\n", id, kind)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "pattern", "Observation kind (pattern, decision, challenge, ...)")
	cmd.Flags().StringVar(&source, "source", "", "Where the observation came from")
	cmd.Flags().StringVar(&sourceType, "source-type", "", "Provenance class (session, commit, comment, ...)")
	cmd.Flags().Float32Var(&reliability, "reliability", store.DefaultReliability, "Trust in the source, within [0,1]")
	return cmd
}

func newBelieveCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "believe [text]",
		Short: "Store a belief with the confidence its current evidence supports",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			return withService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				belief, err := svc.AddBelief(ctx, content, store.Metadata{Source: source})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Stored belief %s (confidence %.2f)\n", belief.ID, *belief.Metadata.Confidence)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Where the belief came from")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		kind  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find observations similar to the query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				hits, err := svc.SearchObservations(ctx, query, kind, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(hits) == 0 {
					fmt.Fprintln(out, "No matching observations.")
					return nil
				}
				for _, h := range hits {
					fmt.Fprintf(out, "%.3f  [%s] %s  (%s)\n", h.Score, h.Entity.Kind, h.Entity.Content, h.Entity.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only return observations of this kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var (
		minScore float32
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "validate [belief]",
		Short: "Judge a belief against the observations most similar to it",
		Long: `Retrieves observations similar to the belief, scores them with the
reasoning rules and prints a JSON report with the verdict, the metrics
behind it and the evidence used.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := knowledge.ValidateOptions{
				MinScore: float32(cfg.Reasoning.ValidateMinScore),
				Limit:    cfg.Reasoning.ValidateLimit,
			}
			if cmd.Flags().Changed("min-score") {
				opts.MinScore = minScore
			}
			if cmd.Flags().Changed("limit") {
				opts.Limit = limit
			}
			query := strings.Join(args, " ")

			return withService(cmd, func(ctx context.Context, svc *knowledge.Service) error {
				report, err := svc.ValidateBelief(ctx, query, opts)
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return nil
			})
		},
	}
	def := knowledge.DefaultValidateOptions()
	cmd.Flags().Float32Var(&minScore, "min-score", def.MinScore, "Minimum similarity for an observation to count (default from reasoning.validate_min_score)")
	cmd.Flags().IntVarP(&limit, "limit", "n", def.Limit, "Maximum observations considered (default from reasoning.validate_limit)")
	return cmd
}
