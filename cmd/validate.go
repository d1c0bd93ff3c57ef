package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/medical-deserts/apl-dashboard/internal/geodata"
	"github.com/medical-deserts/apl-dashboard/internal/indicator"
)

var validateURL string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the dataset and report its schema and status counts",
	Long:  "Fetches the dataset once, checks that every indicator variant's columns are present, and prints per-variant status counts. Exits non-zero when the dataset cannot be loaded.",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := validateURL
		if url != "" {
			cfg.Dataset.URL = url
		}

		env, err := initApp(cfg)
		if err != nil {
			return err
		}

		return runValidate(cmd.Context(), cmd.OutOrStdout(), env, cfg.Dataset.URL)
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateURL, "url", "", "dataset URL (default from config)")
	rootCmd.AddCommand(validateCmd)
}

// runValidate loads url and writes the report to out. Missing indicator
// columns are reported but do not fail the command; an unavailable dataset
// does.
func runValidate(ctx context.Context, out io.Writer, env *appEnv, url string) error {
	ds, err := env.Loader.Load(ctx, url)
	if err != nil {
		return eris.Wrap(err, "validate: load dataset")
	}
	tbl := geodata.ToTabular(ds)

	_, _ = fmt.Fprintf(out, "dataset:  %s\n", url)
	_, _ = fmt.Fprintf(out, "features: %d\n", ds.Len())
	_, _ = fmt.Fprintf(out, "columns:  %d\n", len(ds.Columns))
	_, _ = fmt.Fprintf(out, "crs:      %s\n", ds.CRS)

	schemaErrs := env.Catalog.CheckSchema(tbl)
	if len(schemaErrs) == 0 {
		_, _ = fmt.Fprintln(out, "schema:   ok")
	} else {
		_, _ = fmt.Fprintf(out, "schema:   %d missing column(s)\n", len(schemaErrs))
		for _, e := range schemaErrs {
			_, _ = fmt.Fprintf(out, "  - %s\n", e)
		}
	}
	_, _ = fmt.Fprintln(out)

	results, err := indicator.CountVariants(ctx, tbl, env.Catalog.Variants)
	if err != nil {
		return eris.Wrap(err, "validate: count variants")
	}
	formatVariantCounts(out, env.Catalog, results)
	_, _ = fmt.Fprintln(out)
	formatStatusChecks(out, env.Catalog, tbl)
	return nil
}

// maxMismatches caps the rows listed per variant.
const maxMismatches = 10

// formatStatusChecks reports rows whose stored status disagrees with the
// catalog thresholds. Variants with missing columns were already reported
// by the schema check and are skipped.
func formatStatusChecks(out io.Writer, cat *indicator.Catalog, tbl *geodata.Table) {
	for _, v := range cat.Variants {
		checked, mismatches, err := cat.CheckStatuses(tbl, v)
		if err != nil {
			continue
		}
		_, _ = fmt.Fprintf(out, "thresholds: variant %s, %d checked, %d disagree\n", v.Tag, checked, len(mismatches))
		for i, m := range mismatches {
			if i == maxMismatches {
				_, _ = fmt.Fprintf(out, "  ... %d more\n", len(mismatches)-maxMismatches)
				break
			}
			_, _ = fmt.Fprintf(out, "  - row %d (%s): %g stored %q, expected %q\n", m.Row, m.City, m.Value, m.Stored, m.Derived)
		}
	}
}

// formatVariantCounts writes one table row per variant and status.
func formatVariantCounts(out io.Writer, cat *indicator.Catalog, results []indicator.VariantCount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VARIANT\tSTATUS\tCOLOR\tCOUNT")
	_, _ = fmt.Fprintln(w, "-------\t------\t-----\t-----")

	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t%s\t-\t-\n", r.Variant.Tag, r.Err)
			continue
		}
		for _, b := range r.Counts.Buckets {
			color := cat.StatusColor(b.Label)
			if color == "" {
				color = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", r.Variant.Tag, b.Label, color, b.Count)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t\t%d\n", r.Variant.Tag, "TOTAL", r.Counts.Total())
	}
	_ = w.Flush()
}
