// Package prompt builds the system and user prompts for schema inference,
// rule generation and rule-refinement chat.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"dbtforge/internal/document"
	"dbtforge/internal/ingest"
)

// Section is one titled block of a prompt. Empty bodies are skipped.
type Section struct {
	Title string
	Body  string
}

// Assemble joins sections as markdown with "## " headers.
func Assemble(sections ...Section) string {
	var sb strings.Builder
	for _, s := range sections {
		body := strings.TrimSpace(s.Body)
		if body == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		if s.Title != "" {
			sb.WriteString("## ")
			sb.WriteString(s.Title)
			sb.WriteString("\n\n")
		}
		sb.WriteString(body)
	}
	return sb.String()
}

// Turn is one chat message included as context.
type Turn struct {
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}

// Sheets renders the sampled input as pipe-separated tables.
func Sheets(input *ingest.Result) string {
	if input == nil || len(input.Sheets) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, s := range input.Sheets {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "### %s (%d rows, %d sampled)\n", s.Name, s.TotalRows, len(s.Rows))
		sb.WriteString(strings.Join(s.Headers, " | "))
		sb.WriteString("\n")
		for _, row := range s.Rows {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode prompt context: %w", err)
	}
	return string(data), nil
}

func history(turns []Turn) string {
	var sb strings.Builder
	for _, t := range turns {
		role := "User"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		fmt.Fprintf(&sb, "%s: %s\n", role, strings.TrimSpace(t.Content))
	}
	return sb.String()
}

// tableNames lists schema tables for quick reference.
func tableNames(schema *document.Schema) string {
	if schema == nil {
		return ""
	}
	names := make([]string, 0, len(schema.Tables))
	for _, t := range schema.Tables {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}
