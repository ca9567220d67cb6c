package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/insight-cli/internal/model"
)

var (
	sourcesWorkspace string
	sourcesJSON      bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List the data sources available for analysis",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("sources"); err != nil {
			return err
		}
		router, closeCatalog, err := initCatalog(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeCatalog()

		sources, err := router.ListSources(ctx, sourcesWorkspace)
		if err != nil {
			return eris.Wrap(err, "sources list")
		}

		if sourcesJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sources)
		}
		if len(sources) == 0 {
			fmt.Fprintln(os.Stderr, "No sources found.")
			return nil
		}
		formatSources(os.Stdout, sources)
		return nil
	},
}

func init() {
	sourcesCmd.Flags().StringVar(&sourcesWorkspace, "workspace", "", "only list sources in this workspace id")
	sourcesCmd.Flags().BoolVar(&sourcesJSON, "json", false, "print descriptors as JSON")
	rootCmd.AddCommand(sourcesCmd)
}

func formatSources(w io.Writer, sources []model.SourceDescriptor) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDIALECT\tWORKSPACE\tFIELDS")
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.Name,
			s.Dialect,
			s.WorkspaceName,
			truncate(strings.Join(s.Fields, ","), 40),
		)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
