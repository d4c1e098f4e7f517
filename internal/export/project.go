// Package export packages generated rules as a runnable DBT project.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dbtforge/internal/document"
	"dbtforge/internal/ingest"
)

// ErrNoRules is returned when there is nothing to export.
var ErrNoRules = errors.New("no DBT rules to export")

// Project is everything needed to write one DBT project.
type Project struct {
	Name    string
	Adapter string // duckdb or postgres
	Rules   *document.RuleSet
	// Schema and Input are optional; they add descriptions, sources and seeds.
	Schema       *document.Schema
	Input        *ingest.Result
	IncludeSeeds bool
	// Timestamp stamps archive entries; zero means now.
	Timestamp time.Time
}

type dbtProject struct {
	Name          string                    `yaml:"name"`
	Version       string                    `yaml:"version"`
	ConfigVersion int                       `yaml:"config-version"`
	Profile       string                    `yaml:"profile"`
	ModelPaths    []string                  `yaml:"model-paths"`
	SeedPaths     []string                  `yaml:"seed-paths"`
	TestPaths     []string                  `yaml:"test-paths"`
	Models        map[string]map[string]any `yaml:"models"`
}

type sourcesFile struct {
	Version int         `yaml:"version"`
	Sources []sourceDef `yaml:"sources"`
}

type sourceDef struct {
	Name   string     `yaml:"name"`
	Schema string     `yaml:"schema"`
	Tables []namedDef `yaml:"tables"`
}

type namedDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
}

type modelsFile struct {
	Version int        `yaml:"version"`
	Models  []modelDef `yaml:"models"`
}

type modelDef struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	Config      map[string]any `yaml:"config,omitempty"`
	Columns     []columnDef    `yaml:"columns,omitempty"`
}

type columnDef struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Tests       []any  `yaml:"tests,omitempty"`
}

// ModelName is the file-safe name used for a rule's model files.
func ModelName(tableName string) string {
	return ingest.Identifier(tableName)
}

// modelNames gives each rule a distinct model name. Table names that fold to
// the same identifier are suffixed _2, _3, ... in rule order.
func modelNames(rules []document.TableRule) []string {
	names := make([]string, len(rules))
	for i, tr := range rules {
		names[i] = ModelName(tr.TableName)
	}
	return ingest.UniqueNames(names)
}

func seedNames(sheets []ingest.Sheet) []string {
	names := make([]string, len(sheets))
	for i, s := range sheets {
		names[i] = ModelName(s.Name)
	}
	return ingest.UniqueNames(names)
}

func (p Project) projectName() string {
	name := ingest.Identifier(p.Name)
	if name == "sheet" && p.Name == "" {
		return "dbtforge_project"
	}
	return name
}

func (p Project) adapter() string {
	if p.Adapter == "" {
		return "duckdb"
	}
	return p.Adapter
}

func projectYAML(p Project) ([]byte, error) {
	name := p.projectName()
	return yaml.Marshal(dbtProject{
		Name:          name,
		Version:       "1.0.0",
		ConfigVersion: 2,
		Profile:       name,
		ModelPaths:    []string{"models"},
		SeedPaths:     []string{"seeds"},
		TestPaths:     []string{"tests"},
		Models: map[string]map[string]any{
			name: {"+materialized": document.MaterializeView},
		},
	})
}

func profilesYAML(p Project) ([]byte, error) {
	name := p.projectName()
	var output map[string]any
	switch p.adapter() {
	case "postgres":
		output = map[string]any{
			"type":     "postgres",
			"host":     "{{ env_var('DBT_HOST', 'localhost') }}",
			"port":     5432,
			"user":     "{{ env_var('DBT_USER', 'postgres') }}",
			"password": "{{ env_var('DBT_PASSWORD', '') }}",
			"dbname":   "{{ env_var('DBT_DBNAME', '" + name + "') }}",
			"schema":   "analytics",
			"threads":  4,
		}
	case "duckdb":
		output = map[string]any{
			"type":    "duckdb",
			"path":    name + ".duckdb",
			"threads": 4,
		}
	default:
		return nil, fmt.Errorf("unsupported adapter %q", p.Adapter)
	}
	return yaml.Marshal(map[string]any{
		name: map[string]any{
			"target":  "dev",
			"outputs": map[string]any{"dev": output},
		},
	})
}

// sourcesYAML declares the raw tables models select from.
func sourcesYAML(p Project) ([]byte, error) {
	var tables []namedDef
	seen := map[string]bool{}
	add := func(name, desc string) {
		name = ModelName(name)
		if seen[name] {
			return
		}
		seen[name] = true
		tables = append(tables, namedDef{Name: name, Description: desc})
	}
	if p.Schema != nil {
		for _, t := range p.Schema.Tables {
			add(t.Name, t.Description)
		}
	}
	if p.Input != nil {
		for _, s := range p.Input.Sheets {
			add(s.Name, "")
		}
	}
	if len(tables) == 0 {
		return nil, nil
	}
	return yaml.Marshal(sourcesFile{
		Version: 2,
		Sources: []sourceDef{{Name: "raw", Schema: "main", Tables: tables}},
	})
}

// modelSQL prefixes the rule's SQL with a config block unless it has one.
func modelSQL(tr document.TableRule) string {
	sql := strings.TrimSpace(tr.ModelSQL)
	if sql == "" {
		sql = fmt.Sprintf("select * from {{ source('raw', '%s') }}", ModelName(tr.TableName))
	}
	if strings.Contains(sql, "config(") || tr.Materialization == "" {
		return sql + "\n"
	}
	return fmt.Sprintf("{{ config(materialized='%s') }}\n\n%s\n", tr.Materialization, sql)
}

// modelYAML returns the rule's own YAML when it parses, otherwise one
// generated from its column tests.
func modelYAML(tr document.TableRule, name string, schema *document.Schema) ([]byte, bool, error) {
	if cfg := strings.TrimSpace(tr.YAMLConfig); cfg != "" {
		var parsed map[string]any
		if err := yaml.Unmarshal([]byte(cfg), &parsed); err == nil && parsed != nil {
			return []byte(cfg + "\n"), true, nil
		}
	}

	var table *document.Table
	if schema != nil {
		table = schema.Table(tr.TableName)
	}
	m := modelDef{Name: name}
	if table != nil {
		m.Description = table.Description
	}
	if tr.Materialization != "" {
		m.Config = map[string]any{"materialized": tr.Materialization}
	}
	for _, ct := range tr.ColumnTests {
		col := columnDef{Name: ct.ColumnName}
		if table != nil {
			for _, c := range table.Columns {
				if c.Name == ct.ColumnName {
					col.Description = c.Description
					break
				}
			}
		}
		for _, ts := range ct.Tests {
			col.Tests = append(col.Tests, testYAML(ts))
		}
		for _, rt := range ct.RelationshipTests {
			col.Tests = append(col.Tests, map[string]any{
				"relationships": map[string]any{
					"to":    fmt.Sprintf("ref('%s')", ModelName(rt.ToTable)),
					"field": rt.Field,
				},
			})
		}
		m.Columns = append(m.Columns, col)
	}
	data, err := yaml.Marshal(modelsFile{Version: 2, Models: []modelDef{m}})
	return data, false, err
}

func testYAML(ts document.TestSpec) any {
	if len(ts.Args) == 0 {
		return ts.Name
	}
	return map[string]any{ts.Name: ts.Args}
}

func runScript(p Project, withSeeds bool) string {
	var sb strings.Builder
	sb.WriteString("#!/usr/bin/env bash\n")
	sb.WriteString("# Runs the generated project end to end.\n")
	sb.WriteString("set -euo pipefail\n\n")
	sb.WriteString("cd \"$(dirname \"$0\")\"\n")
	sb.WriteString("export DBT_PROFILES_DIR=\"${DBT_PROFILES_DIR:-$(pwd)}\"\n\n")
	fmt.Fprintf(&sb, "command -v dbt >/dev/null || { echo \"dbt is not installed (pip install dbt-%s)\"; exit 1; }\n\n", p.adapter())
	sb.WriteString("dbt debug\n")
	if withSeeds {
		sb.WriteString("dbt seed\n")
	}
	sb.WriteString("dbt run\n")
	sb.WriteString("dbt test\n")
	return sb.String()
}

func readme(p Project, names []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", p.projectName())
	sb.WriteString("Generated by dbtforge.\n\n")
	if p.Rules.Summary != "" {
		sb.WriteString(p.Rules.Summary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Models\n\n")
	for i, tr := range p.Rules.Rules {
		mat := tr.Materialization
		if mat == "" {
			mat = document.MaterializeView
		}
		fmt.Fprintf(&sb, "- `%s` (%s)\n", names[i], mat)
		for _, r := range tr.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", r)
		}
	}
	if len(p.Rules.GlobalRecommendations) > 0 {
		sb.WriteString("\n## Recommendations\n\n")
		for _, r := range p.Rules.GlobalRecommendations {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	sb.WriteString("\n## Running\n\n```sh\n./run_pipeline.sh\n```\n")
	return sb.String()
}
