package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dbtforge/cmd/dbtforge/ui"
	"dbtforge/internal/document"
	"dbtforge/internal/ingest"
	"dbtforge/internal/session"
	"dbtforge/internal/workbench"
)

// watchCmd regenerates the session whenever files in a directory change
var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Regenerate the schema when input files change",
	Long: `Watches a directory of CSV, TSV and XLSX files. After changes settle, all supported
files are re-parsed and the schema is regenerated; rules are regenerated
too once they exist. Stop with ctrl+c.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	dir := args[0]
	wb, err := openWorkbench(ctx)
	if err != nil {
		return err
	}

	// Changes arrive from the watcher goroutine; regenerate one at a time.
	changes := make(chan string, 1)
	w, err := ingest.NewWatcher(dir, cfg.GetDebounce(), func(_ context.Context, path string) {
		select {
		case changes <- path:
		default:
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	if files := inputFiles(dir); len(files) > 0 {
		regenerate(ctx, wb, dir)
	}
	printSessionHint(wb)
	fmt.Fprintf(os.Stderr, "watching %s\n", dir)

	for {
		select {
		case <-ctx.Done():
			st := w.Stats()
			logger.Info("Watch stopped", zap.Int("events", st.Events), zap.Int("regenerations", st.Triggered))
			return nil
		case path := <-changes:
			logger.Info("Input changed", zap.String("path", path))
			regenerate(ctx, wb, dir)
		}
	}
}

func regenerate(ctx context.Context, wb *workbench.Workbench, dir string) {
	st := ui.ForTerminal(plain)
	report := func(err error) {
		if err != nil && ctx.Err() == nil {
			fmt.Fprintln(os.Stderr, st.Error.Render(workbench.StatusMessage(err)))
		}
	}

	files := inputFiles(dir)
	if len(files) == 0 {
		report(workbench.ErrNoInput)
		return
	}
	if _, err := wb.Attach(ctx, files...); err != nil {
		report(err)
		return
	}
	hadRules := wb.Rules().State() == session.StateFinalized

	s, err := generateSchema(ctx, wb)
	if err != nil {
		report(err)
		return
	}
	fmt.Println(ui.RenderSchema(st, s))
	if !hadRules {
		return
	}

	var rules *document.RuleSet
	err = ui.RunProgress(ctx, "Regenerating DBT rules", plain, func(ctx context.Context, update func(string)) error {
		ctx, cancel := requestContext(ctx)
		defer cancel()
		var err error
		rules, err = wb.GenerateRules(ctx, func(r *document.RuleSet) { update(ui.RulesStatus(r)) })
		return err
	})
	if err != nil {
		report(err)
		return
	}
	fmt.Println(ui.RenderRules(st, rules))
}

// inputFiles lists supported files directly under dir, sorted.
func inputFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if ingest.Supported(p) {
			files = append(files, p)
		}
	}
	sort.Strings(files)
	return files
}
