package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/export"
	"github.com/sells-group/insight-cli/internal/model"
)

var (
	askDepth     string
	askWorkspace string
	askJSON      bool
	askXLSX      string
	askHints     map[string]string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a business question",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		q, err := buildQuery(strings.Join(args, " "), askDepth, askWorkspace, askHints)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "ask")
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Pipeline.Analyze(ctx, q)

		if askXLSX != "" {
			if err := export.SaveXLSX(askXLSX, res); err != nil {
				return err
			}
			zap.L().Info("results exported", zap.String("path", askXLSX))
		}

		return writeAnswer(os.Stdout, res, askJSON)
	},
}

func init() {
	askCmd.Flags().StringVar(&askDepth, "depth", "standard", "analysis depth: standard, deep or extensive")
	askCmd.Flags().StringVar(&askWorkspace, "workspace", "", "restrict sources to one workspace id")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full result as JSON")
	askCmd.Flags().StringVar(&askXLSX, "xlsx", "", "also write result rows to this .xlsx file")
	askCmd.Flags().StringToStringVar(&askHints, "hint", nil, "extra hints as key=value (e.g. metric=revenue)")
	rootCmd.AddCommand(askCmd)
}

func buildQuery(text, depth, workspace string, hints map[string]string) (model.Query, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Query{}, eris.New("question is empty")
	}
	d, ok := model.ParseDepth(depth)
	if !ok {
		return model.Query{}, eris.Errorf("unknown depth %q (want standard, deep or extensive)", depth)
	}
	q := model.NewQuery(text, d, hints)
	if workspace != "" {
		if q.Hints == nil {
			q.Hints = make(map[string]string, 1)
		}
		q.Hints[model.HintWorkspace] = workspace
	}
	return q, nil
}

// writeAnswer prints the formatted response, or the full result as JSON.
func writeAnswer(w io.Writer, res *model.AnalysisResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(res), "encode result")
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(res.Response, "\n"))
	return eris.Wrap(err, "write answer")
}
