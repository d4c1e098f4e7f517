package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dbtforge/cmd/dbtforge/ui"
	"dbtforge/internal/document"
	"dbtforge/internal/session"
	"dbtforge/internal/workbench"
)

// schemaCmd infers a schema from input files
var schemaCmd = &cobra.Command{
	Use:   "schema [files...]",
	Short: "Infer a relational schema from CSV, TSV or XLSX files",
	Long: `Parses the files, streams a schema from the model and prints it.
With --session and no files, the stored input is reused.`,
	RunE: runSchema,
}

// rulesCmd generates DBT rules for the current schema
var rulesCmd = &cobra.Command{
	Use:   "rules [files...]",
	Short: "Generate DBT models and tests",
	Long: `Generates DBT rules for the session's schema. If files are given,
or the session has no finalized schema yet, a schema is generated first.`,
	RunE: runRules,
}

func runSchema(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	wb, err := openWorkbench(ctx)
	if err != nil {
		return err
	}
	if err := attach(ctx, wb, args); err != nil {
		return err
	}
	s, err := generateSchema(ctx, wb)
	if err != nil {
		return err
	}
	fmt.Println(ui.RenderSchema(ui.ForTerminal(plain), s))
	printSessionHint(wb)
	return nil
}

func runRules(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	wb, err := openWorkbench(ctx)
	if err != nil {
		return err
	}
	if err := attach(ctx, wb, args); err != nil {
		return err
	}
	if len(args) > 0 || wb.Schema().State() != session.StateFinalized {
		if _, err := generateSchema(ctx, wb); err != nil {
			return err
		}
	}

	var rules *document.RuleSet
	err = ui.RunProgress(ctx, "Generating DBT rules", plain, func(ctx context.Context, update func(string)) error {
		ctx, cancel := requestContext(ctx)
		defer cancel()
		var err error
		rules, err = wb.GenerateRules(ctx, func(r *document.RuleSet) { update(ui.RulesStatus(r)) })
		return err
	})
	if err != nil {
		return err
	}
	fmt.Println(ui.RenderRules(ui.ForTerminal(plain), rules))
	printSessionHint(wb)
	return nil
}

// attach parses files into the session. Without files it requires stored
// input from a resumed session.
func attach(ctx context.Context, wb *workbench.Workbench, files []string) error {
	if len(files) == 0 {
		if wb.Input() == nil {
			return workbench.ErrNoInput
		}
		return nil
	}
	res, err := wb.Attach(ctx, files...)
	if err != nil {
		return err
	}
	for _, s := range res.Sheets {
		logger.Info("Parsed sheet", zap.String("name", s.Name), zap.Int("rows", s.TotalRows), zap.Int("columns", len(s.Headers)))
	}
	return nil
}

func generateSchema(ctx context.Context, wb *workbench.Workbench) (*document.Schema, error) {
	var schema *document.Schema
	err := ui.RunProgress(ctx, "Generating schema", plain, func(ctx context.Context, update func(string)) error {
		ctx, cancel := requestContext(ctx)
		defer cancel()
		var err error
		schema, err = wb.GenerateSchema(ctx, func(s *document.Schema) { update(ui.SchemaStatus(s)) })
		return err
	})
	return schema, err
}
