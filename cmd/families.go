package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/catalog-ingest/internal/catalog"
	"github.com/sells-group/catalog-ingest/internal/family"
	"github.com/sells-group/catalog-ingest/internal/model"
)

var familiesCmd = &cobra.Command{
	Use:   "families",
	Short: "List registered families and their live schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("migrate"); err != nil {
			return err
		}

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		blueprints, err := family.LoadBlueprints(cfg.Ingest.BlueprintsPath)
		if err != nil {
			return err
		}

		rows, err := describeFamilies(ctx, st, blueprints)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(os.Stderr, "No families registered.")
			return nil
		}

		showColumns, _ := cmd.Flags().GetBool("columns")
		formatFamilies(os.Stdout, rows, showColumns)
		return nil
	},
}

// familyRow is one line of the families listing.
type familyRow struct {
	Slug        string
	Table       string
	Registered  bool
	VariantKeys []string
	Template    string
	Columns     map[string]model.AttrType
}

// familyLister is the slice of catalog.Store the listing needs.
type familyLister interface {
	catalog.FamilyRegistry
	Columns(ctx context.Context, table string) (map[string]model.AttrType, error)
}

// describeFamilies merges registry entries with blueprints that have not
// been registered yet, ordered by slug.
func describeFamilies(ctx context.Context, st familyLister, blueprints []model.Family) ([]familyRow, error) {
	regs, err := st.ListFamilies(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "families: list registry")
	}

	bySlug := make(map[string]*familyRow, len(regs)+len(blueprints))
	for _, r := range regs {
		row := &familyRow{Slug: r.Slug, Table: r.Table, Registered: true, VariantKeys: r.VariantKeys, Template: r.Template}
		cols, err := st.Columns(ctx, r.Table)
		if err != nil {
			return nil, eris.Wrapf(err, "families: columns of %s", r.Table)
		}
		row.Columns = cols
		bySlug[r.Slug] = row
	}
	for _, bp := range blueprints {
		row, ok := bySlug[bp.Slug]
		if !ok {
			bySlug[bp.Slug] = &familyRow{
				Slug:        bp.Slug,
				Table:       bp.Table,
				VariantKeys: bp.VariantKeys,
				Template:    bp.Template,
				Columns:     bp.Attributes,
			}
			continue
		}
		if row.Template == "" {
			row.Template = bp.Template
		}
	}

	out := make([]familyRow, 0, len(bySlug))
	for _, row := range bySlug {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// formatFamilies writes a tabular family listing to w.
func formatFamilies(out io.Writer, rows []familyRow, showColumns bool) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FAMILY\tTABLE\tREGISTERED\tCOLUMNS\tVARIANT_KEYS\tTEMPLATE")
	_, _ = fmt.Fprintln(w, "------\t-----\t----------\t-------\t------------\t--------")
	for _, r := range rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%s\t%s\n",
			r.Slug,
			r.Table,
			r.Registered,
			len(r.Columns),
			strings.Join(r.VariantKeys, ","),
			r.Template,
		)
	}
	_ = w.Flush()

	if !showColumns {
		return
	}
	for _, r := range rows {
		if len(r.Columns) == 0 {
			continue
		}
		_, _ = fmt.Fprintf(out, "\n%s:\n", r.Slug)
		names := make([]string, 0, len(r.Columns))
		for name := range r.Columns {
			names = append(names, name)
		}
		sort.Strings(names)
		cw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, name := range names {
			_, _ = fmt.Fprintf(cw, "  %s\t%s\n", name, r.Columns[name])
		}
		_ = cw.Flush()
	}
}

func init() {
	familiesCmd.Flags().Bool("columns", false, "also list each family's attribute columns")
	rootCmd.AddCommand(familiesCmd)
}
