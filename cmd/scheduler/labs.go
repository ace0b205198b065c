package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"

	"github.com/example/lab-scheduler/internal/catalog"
)

func newLabsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "labs",
		Short: "Validate the laboratory catalog and list its laboratories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.CatalogPath == "" {
				return fmt.Errorf("catalog path is required: set --catalog or SCHEDULER_CATALOG_PATH")
			}
			snapshot, err := catalog.LoadFile(cfg.CatalogPath)
			if err != nil {
				return err
			}
			labs, err := snapshot.List(cmd.Context())
			if err != nil {
				return err
			}
			return printLaboratories(cmd.OutOrStdout(), labs)
		},
	}
	cmd.Flags().String("catalog", "", "laboratory catalog YAML file (SCHEDULER_CATALOG_PATH)")
	return cmd
}

func printLaboratories(out io.Writer, labs []catalog.Laboratory) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCAPACITY\tDURATION\tHARDWARE")
	for _, lab := range labs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			lab.ID,
			lab.Name,
			lab.Capacity,
			lab.Duration,
			english.Plural(len(lab.Hardware), "unit", ""),
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%s in catalog\n", english.Plural(len(labs), "laboratory", "laboratories"))
	return err
}
