package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbtforge/internal/document"
)

func TestRenderSchema(t *testing.T) {
	st := PlainStyles()
	assert.Equal(t, "(no tables yet)", RenderSchema(st, nil))

	s := &document.Schema{
		Tables: []document.Table{{
			Name:      "orders",
			TableType: document.TableFact,
			Columns: []document.Column{
				{Name: "id", DataType: "integer", IsPrimaryKey: true},
				{Name: "customer_id", DataType: "integer", IsForeignKey: true, ForeignKey: &document.ForeignKeyRef{Table: "customers", Column: "id"}},
				{Name: "email", DataType: "text", IsPII: true},
			},
		}},
		Relationships:           []document.Relationship{{FromTable: "orders", FromColumn: "customer_id", ToTable: "customers", ToColumn: "id", Type: document.OneToMany}},
		ModelingRecommendations: []string{"add a date dimension"},
	}
	out := RenderSchema(st, s)
	assert.Contains(t, out, "Schema: 1 tables")
	assert.Contains(t, out, "orders [fact]")
	assert.Contains(t, out, "- id integer PK")
	assert.Contains(t, out, "FK->customers.id")
	assert.Contains(t, out, "email text PII")
	assert.Contains(t, out, "orders.customer_id -> customers.id (one-to-many)")
	assert.Contains(t, out, "* add a date dimension")
}

func TestRenderRules(t *testing.T) {
	st := PlainStyles()
	assert.Equal(t, "(no DBT rules yet)", RenderRules(st, &document.RuleSet{}))

	r := &document.RuleSet{
		Rules: []document.TableRule{{
			TableName:       "orders",
			Materialization: "incremental",
			ColumnTests: []document.ColumnTest{{
				ColumnName:        "customer_id",
				Tests:             []document.TestSpec{{Name: "not_null"}},
				RelationshipTests: []document.RelationshipTest{{ToTable: "customers", Field: "id"}},
			}},
		}},
		Summary: "one model",
	}
	out := RenderRules(st, r)
	assert.Contains(t, out, "orders (incremental)")
	assert.Contains(t, out, "- customer_id: not_null, relationships->customers.id")
	assert.Contains(t, out, "one model")
}

func TestRenderChangeLog(t *testing.T) {
	st := PlainStyles()
	assert.Equal(t, "No changes were applied to the DBT rules.", RenderChangeLog(st, nil, ""))

	out := RenderChangeLog(st, []document.ChangeLogEntry{
		{Kind: document.ChangeModified, Message: "Modified rule for orders (materialization)"},
		{Kind: document.ChangeAdded, Message: "Added rule for payments"},
		{Kind: document.ChangeError, Message: "rule 3 in the update has no tableName and was skipped"},
	}, "payments")
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "~ Modified rule for orders (materialization)", lines[1])
	assert.Equal(t, "+ Added rule for payments", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "! "))
	assert.Equal(t, "Last modified table: payments", lines[4])
}

func TestMarkdown_Plain(t *testing.T) {
	assert.Equal(t, "**bold**", Markdown("**bold**", 80, true))
	assert.NotEmpty(t, Markdown("# Title", 40, false))
}

func TestProgressModel(t *testing.T) {
	cancelled := false
	m := NewProgressModel("Generating schema", PlainStyles(), func() { cancelled = true })
	require.NotNil(t, m.Init())

	next, _ := m.Update(statusMsg("2 tables, 5 columns"))
	m = next.(ProgressModel)
	assert.Equal(t, "2 tables, 5 columns", m.Status())
	assert.Contains(t, m.View(), "Generating schema")
	assert.Contains(t, m.View(), "2 tables, 5 columns")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = next.(ProgressModel)
	assert.True(t, cancelled)
	done, _ := m.Done()
	assert.False(t, done)

	tick, ok := m.spinner.Tick().(spinner.TickMsg)
	require.True(t, ok)
	next, cmd := m.Update(tick)
	m = next.(ProgressModel)
	assert.NotNil(t, cmd)

	boom := errors.New("boom")
	next, cmd = m.Update(doneMsg{err: boom})
	m = next.(ProgressModel)
	done, err := m.Done()
	assert.True(t, done)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "", m.View())
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestRunProgress_Plain(t *testing.T) {
	called := false
	err := RunProgress(context.Background(), "Working", true, func(ctx context.Context, update func(string)) error {
		update("ignored")
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestStatusLines(t *testing.T) {
	assert.Equal(t, "", SchemaStatus(nil))
	s := &document.Schema{Tables: []document.Table{{Name: "a", Columns: make([]document.Column, 2)}, {Name: "b", Columns: make([]document.Column, 1)}}}
	assert.Equal(t, "2 tables, 3 columns (b)", SchemaStatus(s))

	r := &document.RuleSet{Rules: []document.TableRule{{TableName: "a", ColumnTests: []document.ColumnTest{{Tests: make([]document.TestSpec, 2)}}}}}
	assert.Equal(t, "1 models, 2 tests (a)", RulesStatus(r))

	assert.Equal(t, "last line", Tail("first\nlast line\n", 0))
	assert.Equal(t, "...6789", Tail("0123456789", 7))
}
