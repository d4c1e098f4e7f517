package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// RuleSet is the generated DBT rule document.
type RuleSet struct {
	Rules                 []TableRule `json:"dbtRules"`
	GlobalRecommendations []string    `json:"globalRecommendations"`
	Summary               string      `json:"summary,omitempty"`
}

// Materializations understood by the exporter.
const (
	MaterializeTable       = "table"
	MaterializeView        = "view"
	MaterializeIncremental = "incremental"
	MaterializeEphemeral   = "ephemeral"
)

// TableRule is the model, config and tests generated for one table.
// TableName is the merge identity key.
type TableRule struct {
	TableName       string             `json:"tableName"`
	ModelSQL        string             `json:"modelSql"`
	YAMLConfig      string             `json:"yamlConfig"`
	ColumnTests     []ColumnTest       `json:"columnTests"`
	Recommendations []string           `json:"recommendations"`
	Materialization string             `json:"materialization"`
	Relationships   []RuleRelationship `json:"relationships"`
}

// RuleRelationship documents a join the model SQL relies on.
type RuleRelationship struct {
	Description string `json:"description"`
	JoinLogic   string `json:"joinLogic"`
}

// ColumnTest lists the DBT tests for one column.
type ColumnTest struct {
	ColumnName        string             `json:"columnName"`
	Tests             []TestSpec         `json:"tests"`
	RelationshipTests []RelationshipTest `json:"relationshipTests"`
}

// RelationshipTest is a referential test against another model.
type RelationshipTest struct {
	ToTable  string `json:"toTable"`
	Field    string `json:"field"`
	TestType string `json:"testType"`
}

// TestSpec is a DBT generic test. In JSON it is either a bare name
// ("not_null") or a single-key object carrying arguments
// ({"accepted_values": {"values": ["a", "b"]}}).
type TestSpec struct {
	Name string
	Args map[string]any
}

// UnmarshalJSON accepts both encodings.
func (t *TestSpec) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		*t = TestSpec{Name: name}
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("test must be a name or an object: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("test object must have exactly one key, got %d", len(obj))
	}
	for name, raw := range obj {
		spec := TestSpec{Name: name}
		var args map[string]any
		if err := json.Unmarshal(raw, &args); err == nil {
			spec.Args = args
		} else {
			// Some models emit {"accepted_values": ["a","b"]}; keep it under "values".
			var v any
			if err := json.Unmarshal(raw, &v); err != nil {
				return err
			}
			if v != nil {
				spec.Args = map[string]any{"values": v}
			}
		}
		*t = spec
	}
	return nil
}

// MarshalJSON writes the bare form when there are no arguments.
func (t TestSpec) MarshalJSON() ([]byte, error) {
	if len(t.Args) == 0 {
		return json.Marshal(t.Name)
	}
	return json.Marshal(map[string]any{t.Name: t.Args})
}

// Normalize replaces nil slices with empty ones, recursively.
func (r *RuleSet) Normalize() {
	r.Rules = orEmpty(r.Rules)
	r.GlobalRecommendations = orEmpty(r.GlobalRecommendations)
	for i := range r.Rules {
		r.Rules[i].Normalize()
	}
}

// Normalize replaces nil slices with empty ones, recursively.
func (tr *TableRule) Normalize() {
	tr.ColumnTests = orEmpty(tr.ColumnTests)
	tr.Recommendations = orEmpty(tr.Recommendations)
	tr.Relationships = orEmpty(tr.Relationships)
	for j := range tr.ColumnTests {
		ct := &tr.ColumnTests[j]
		ct.Tests = orEmpty(ct.Tests)
		ct.RelationshipTests = orEmpty(ct.RelationshipTests)
	}
}

// Rule returns the index of the rule named tableName, or -1.
func (r *RuleSet) Rule(tableName string) int {
	for i := range r.Rules {
		if r.Rules[i].TableName == tableName {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy. A nil rule list stays nil.
func (r *RuleSet) Clone() *RuleSet {
	if r == nil {
		return nil
	}
	out := &RuleSet{
		GlobalRecommendations: cloneSlice(r.GlobalRecommendations),
		Summary:               r.Summary,
	}
	if r.Rules != nil {
		out.Rules = make([]TableRule, len(r.Rules))
		for i, tr := range r.Rules {
			out.Rules[i] = tr.Clone()
		}
	}
	return out
}

// Clone returns a deep copy.
func (tr TableRule) Clone() TableRule {
	out := tr
	out.Recommendations = cloneSlice(tr.Recommendations)
	out.Relationships = cloneSlice(tr.Relationships)
	if tr.ColumnTests != nil {
		out.ColumnTests = make([]ColumnTest, len(tr.ColumnTests))
		for i, ct := range tr.ColumnTests {
			c := ct
			c.RelationshipTests = cloneSlice(ct.RelationshipTests)
			if ct.Tests != nil {
				c.Tests = make([]TestSpec, len(ct.Tests))
				for k, ts := range ct.Tests {
					c.Tests[k] = TestSpec{Name: ts.Name, Args: cloneArgs(ts.Args)}
				}
			}
			out.ColumnTests[i] = c
		}
	}
	return out
}

// TableNames returns rule names in document order.
func (r *RuleSet) TableNames() []string {
	names := make([]string, 0, len(r.Rules))
	for _, tr := range r.Rules {
		names = append(names, tr.TableName)
	}
	return names
}

// SortedArgKeys returns the test argument names in stable order.
func (t TestSpec) SortedArgKeys() []string {
	keys := make([]string, 0, len(t.Args))
	for k := range t.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cloneArgs(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneArgs(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
