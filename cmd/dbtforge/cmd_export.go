package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	exportOut     string
	exportAdapter string
	exportNoSeeds bool
)

// exportCmd packages the session's DBT rules as a project zip
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the DBT project as a zip archive",
	Long: `Writes dbt_project.yml, profiles.yml, models, seeds and a run script
into a zip archive. Requires --session with generated rules.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		wb, err := openWorkbench(ctx)
		if err != nil {
			return err
		}
		ec := cfg.Export
		if exportAdapter != "" {
			ec.Adapter = exportAdapter
		}
		if exportNoSeeds {
			ec.IncludeSeeds = false
		}
		out := exportOut
		if out == "" {
			out = ec.ProjectName + ".zip"
		}
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		if err := wb.Export(f, ec); err != nil {
			f.Close()
			_ = os.Remove(out)
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		logger.Info("Exported project", zap.String("path", out), zap.String("adapter", ec.Adapter))
		fmt.Println(out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output zip path (default <project_name>.zip)")
	exportCmd.Flags().StringVar(&exportAdapter, "adapter", "", "DBT adapter: duckdb or postgres")
	exportCmd.Flags().BoolVar(&exportNoSeeds, "no-seeds", false, "Leave sampled rows out of seeds/")
}
