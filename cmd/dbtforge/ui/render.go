package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"dbtforge/internal/document"
)

// RenderSchema prints tables, keys and relationships.
func RenderSchema(st Styles, s *document.Schema) string {
	if s == nil || len(s.Tables) == 0 {
		return st.Muted.Render("(no tables yet)")
	}
	var b strings.Builder
	b.WriteString(st.Title.Render(fmt.Sprintf("Schema: %d tables", len(s.Tables))))
	b.WriteString("\n")
	for _, t := range s.Tables {
		b.WriteString("\n")
		head := t.Name
		if t.TableType != "" {
			head += " [" + t.TableType + "]"
		}
		b.WriteString(st.Heading.Render(head))
		b.WriteString("\n")
		if t.Description != "" {
			b.WriteString(st.Muted.Render("  "+t.Description) + "\n")
		}
		for _, c := range t.Columns {
			var marks []string
			if c.IsPrimaryKey {
				marks = append(marks, "PK")
			}
			if c.IsForeignKey && c.ForeignKey != nil {
				marks = append(marks, "FK->"+c.ForeignKey.Table+"."+c.ForeignKey.Column)
			} else if c.IsForeignKey {
				marks = append(marks, "FK")
			}
			if c.IsPII {
				marks = append(marks, "PII")
			}
			line := fmt.Sprintf("  - %s %s", c.Name, st.Muted.Render(c.DataType))
			if len(marks) > 0 {
				line += " " + st.Key.Render(strings.Join(marks, ","))
			}
			b.WriteString(line + "\n")
		}
	}
	if len(s.Relationships) > 0 {
		b.WriteString("\n" + st.Heading.Render("Relationships") + "\n")
		for _, r := range s.Relationships {
			fmt.Fprintf(&b, "  %s.%s -> %s.%s (%s)\n", r.FromTable, r.FromColumn, r.ToTable, r.ToColumn, r.Type)
		}
	}
	writeList(&b, st, "Recommendations", s.ModelingRecommendations)
	return strings.TrimRight(b.String(), "\n")
}

// RenderRules prints each table rule with its tests.
func RenderRules(st Styles, r *document.RuleSet) string {
	if r == nil || len(r.Rules) == 0 {
		return st.Muted.Render("(no DBT rules yet)")
	}
	var b strings.Builder
	b.WriteString(st.Title.Render(fmt.Sprintf("DBT rules: %d models", len(r.Rules))))
	b.WriteString("\n")
	for _, tr := range r.Rules {
		b.WriteString("\n")
		head := tr.TableName
		if tr.Materialization != "" {
			head += " (" + tr.Materialization + ")"
		}
		b.WriteString(st.Heading.Render(head) + "\n")
		for _, ct := range tr.ColumnTests {
			names := make([]string, 0, len(ct.Tests)+len(ct.RelationshipTests))
			for _, t := range ct.Tests {
				names = append(names, t.Name)
			}
			for _, rt := range ct.RelationshipTests {
				names = append(names, "relationships->"+rt.ToTable+"."+rt.Field)
			}
			fmt.Fprintf(&b, "  - %s: %s\n", ct.ColumnName, strings.Join(names, ", "))
		}
		for _, rec := range tr.Recommendations {
			b.WriteString(st.Muted.Render("  * "+rec) + "\n")
		}
	}
	writeList(&b, st, "Global recommendations", r.GlobalRecommendations)
	if r.Summary != "" {
		b.WriteString("\n" + st.Muted.Render(r.Summary) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderChangeLog prints the outcome of a reconciled rules update.
func RenderChangeLog(st Styles, log []document.ChangeLogEntry, lastTable string) string {
	if len(log) == 0 {
		return st.Muted.Render("No changes were applied to the DBT rules.")
	}
	var b strings.Builder
	b.WriteString(st.Title.Render("Updated DBT rules") + "\n")
	for _, e := range log {
		switch e.Kind {
		case document.ChangeAdded:
			b.WriteString(st.Added.Render("+ "+e.Message) + "\n")
		case document.ChangeModified:
			b.WriteString(st.Modified.Render("~ "+e.Message) + "\n")
		default:
			b.WriteString(st.Error.Render("! "+e.Message) + "\n")
		}
	}
	if lastTable != "" {
		b.WriteString(st.Muted.Render("Last modified table: "+lastTable) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Markdown renders an answer with glamour. On renderer failure, or when
// plain is set, the text is returned unchanged.
func Markdown(text string, width int, plain bool) string {
	if plain {
		return text
	}
	if width <= 0 {
		width = 100
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func writeList(b *strings.Builder, st Styles, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + st.Heading.Render(title) + "\n")
	for _, it := range items {
		b.WriteString("  * " + it + "\n")
	}
}
