package workbench

import (
	"context"
	"errors"
	"fmt"

	"dbtforge/internal/export"
	"dbtforge/internal/ingest"
	"dbtforge/internal/llm"
	"dbtforge/internal/reconcile"
	"dbtforge/internal/session"
	"dbtforge/internal/store"
	"dbtforge/internal/stream"
)

// StatusMessage maps any error from a workbench operation to the single
// line shown to the user. A nil error gives "".
func StatusMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "Cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "The model took too long to respond. Try again or raise llm.timeout."
	case errors.Is(err, ErrNoInput):
		return "Attach at least one CSV, TSV or XLSX file first."
	case errors.Is(err, ErrSchemaRequired):
		return "Generate a schema before generating DBT rules."
	case errors.Is(err, session.ErrFinalize):
		return fmt.Sprintf("The model's response was not valid JSON, nothing was changed: %v", err)
	case errors.Is(err, session.ErrSuperseded):
		return "A newer request replaced this one."
	case errors.Is(err, stream.ErrUpstream):
		return fmt.Sprintf("The model request failed: %v", err)
	case errors.Is(err, stream.ErrNonMonotonic):
		return "The model stream was inconsistent. Please retry."
	case errors.Is(err, reconcile.ErrNoRuleSet), errors.Is(err, export.ErrNoRules):
		return "Generate DBT rules first."
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return fmt.Sprintf("Cannot read input: %v", err)
	case errors.Is(err, llm.ErrNoAPIKey):
		return "No API key configured. Set OPENAI_API_KEY, OPENROUTER_API_KEY, XAI_API_KEY or GEMINI_API_KEY."
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("Unknown session: %v", err)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
