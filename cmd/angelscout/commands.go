package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"angelscout/internal/app"
	"angelscout/internal/enrich"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search investors (cache first, then the generative source)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return runSearch(ctx, a, cmd.OutOrStdout(), strings.Join(args, " "))
		})
	},
}

var accumulateCmd = &cobra.Command{
	Use:   "accumulate [query]",
	Short: "Run an accumulation for a query and print the records it touched",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			return runAccumulate(ctx, a, cmd.OutOrStdout(), strings.Join(args, " "))
		})
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich [id]",
	Short: "Fetch a detailed profile for one stored investor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if a.Enricher == nil {
				return errors.New("enrichment needs the gemini source (drop --offline)")
			}
			r, err := a.Enricher.Enrich(ctx, args[0])
			if errors.Is(err, enrich.ErrNotFound) {
				return fmt.Errorf("no investor with id %s", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), r)
		})
	},
}

var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Deduplicate the stored investor set by normalized name",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			res, err := a.Dedupe(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kept %d records, removed %d duplicates and %d invalid\n",
				len(res.Unique), res.DuplicatesRemoved, res.InvalidRemoved)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the job lock, last run and record counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			rep, err := a.Status(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics [search|accumulate query...]",
	Short: "Optionally run a search or accumulation, then dump metrics",
	Long: `Prints the metrics registry in the prometheus text exposition format.
With arguments, the named operation runs first so its counters are included:

  angelscout metrics search fintech seed
  angelscout metrics accumulate climate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if len(args) > 0 {
				query := strings.Join(args[1:], " ")
				var err error
				switch args[0] {
				case "search":
					err = runSearch(ctx, a, io.Discard, query)
				case "accumulate":
					err = runAccumulate(ctx, a, io.Discard, query)
				default:
					return fmt.Errorf("unknown operation %q (want search or accumulate)", args[0])
				}
				if err != nil {
					return err
				}
				a.Search.Wait()
			}
			return dumpMetrics(cmd.OutOrStdout(), a)
		})
	},
}

func runSearch(ctx context.Context, a *app.App, w io.Writer, query string) error {
	res := a.Search.Search(ctx, query)
	return printJSON(w, res)
}

func runAccumulate(ctx context.Context, a *app.App, w io.Writer, query string) error {
	records := a.Job.Accumulate(ctx, query)
	return printJSON(w, records)
}

func dumpMetrics(w io.Writer, a *app.App) error {
	families, err := a.Registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode metrics: %w", err)
		}
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
