package document

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDocumentsHaveNoNilLists(t *testing.T) {
	s := SchemaCodec{}.Empty()
	assert.NotNil(t, s.Tables)
	assert.NotNil(t, s.Relationships)
	assert.NotNil(t, s.SuggestedJoins)
	assert.NotNil(t, s.ModelingRecommendations)

	r := RuleSetCodec{}.Empty()
	assert.NotNil(t, r.Rules)
	assert.NotNil(t, r.GlobalRecommendations)

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dbtRules":[],"globalRecommendations":[]}`, string(data))
}

func TestCoerceFillsNestedLists(t *testing.T) {
	v := map[string]any{
		"schemas": []any{
			map[string]any{"name": "orders", "columns": []any{map[string]any{"name": "id"}}},
		},
	}
	s, err := SchemaCodec{}.Coerce(v)
	require.NoError(t, err)
	require.Len(t, s.Tables, 1)
	assert.Equal(t, "orders", s.Tables[0].Name)
	assert.NotNil(t, s.Tables[0].Columns[0].DataQuality)
	assert.NotNil(t, s.Tables[0].Columns[0].Constraints)
	assert.Empty(t, s.Relationships)
}

func TestCoerceRejectsWrongShape(t *testing.T) {
	_, err := RuleSetCodec{}.Coerce([]any{1, 2})
	assert.ErrorIs(t, err, ErrShape)

	_, err = RuleSetCodec{}.Coerce(map[string]any{"dbtRules": "not a list"})
	assert.ErrorIs(t, err, ErrShape)

	_, err = RuleSetCodec{}.Coerce(float64(3))
	assert.ErrorIs(t, err, ErrShape)
}

func TestParseStrict(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"plain", `{"dbtRules":[{"tableName":"orders"}]}`, false},
		{"fenced", "```json\n{\"dbtRules\":[]}\n```", false},
		{"truncated", `{"dbtRules":[{"tableName":"ord`, true},
		{"null", `null`, true},
		{"array", `[]`, true},
		{"trailing garbage", `{"dbtRules":[]} extra`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := RuleSetCodec{}.Parse(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, r.Rules)
			assert.NotNil(t, r.GlobalRecommendations)
		})
	}
}

func TestTestSpecEncodings(t *testing.T) {
	var ct ColumnTest
	err := json.Unmarshal([]byte(`{
		"columnName": "status",
		"tests": [
			"not_null",
			{"accepted_values": {"values": ["open", "closed"]}},
			{"dbt_utils.expression_is_true": ["amount > 0"]},
			null
		]
	}`), &ct)
	require.NoError(t, err)
	require.Len(t, ct.Tests, 4)
	assert.Equal(t, TestSpec{Name: "not_null"}, ct.Tests[0])
	assert.Equal(t, "accepted_values", ct.Tests[1].Name)
	assert.Equal(t, []any{"open", "closed"}, ct.Tests[1].Args["values"])
	assert.Equal(t, []any{"amount > 0"}, ct.Tests[2].Args["values"])

	out, err := json.Marshal(ct.Tests[:2])
	require.NoError(t, err)
	assert.JSONEq(t, `["not_null", {"accepted_values": {"values": ["open", "closed"]}}]`, string(out))

	var bad TestSpec
	assert.Error(t, json.Unmarshal([]byte(`{"a": 1, "b": 2}`), &bad))
}

func TestRuleSetCloneIsDeep(t *testing.T) {
	orig := &RuleSet{
		Rules: []TableRule{{
			TableName:   "orders",
			ColumnTests: []ColumnTest{{ColumnName: "id", Tests: []TestSpec{{Name: "accepted_values", Args: map[string]any{"values": []any{"a"}}}}}},
		}},
		GlobalRecommendations: []string{"x"},
	}
	clone := orig.Clone()
	require.Empty(t, cmp.Diff(orig, clone))

	clone.Rules[0].TableName = "changed"
	clone.Rules[0].ColumnTests[0].Tests[0].Args["values"].([]any)[0] = "b"
	clone.GlobalRecommendations[0] = "y"

	assert.Equal(t, "orders", orig.Rules[0].TableName)
	assert.Equal(t, "a", orig.Rules[0].ColumnTests[0].Tests[0].Args["values"].([]any)[0])
	assert.Equal(t, "x", orig.GlobalRecommendations[0])
}

func TestSchemaCloneIsDeep(t *testing.T) {
	orig := SchemaCodec{}.Empty()
	orig.Tables = append(orig.Tables, Table{
		Name:       "customers",
		Columns:    []Column{{Name: "email", IsPII: true, ForeignKey: &ForeignKeyRef{Table: "x"}, DataQuality: []string{}, Constraints: []string{}}},
		PrimaryKey: &PrimaryKey{Columns: []string{"id"}},
	})
	clone := orig.Clone()
	assert.Empty(t, cmp.Diff(orig, clone))

	clone.Tables[0].Columns[0].ForeignKey.Table = "y"
	clone.Tables[0].PrimaryKey.Columns[0] = "uuid"
	assert.Equal(t, "x", orig.Tables[0].Columns[0].ForeignKey.Table)
	assert.Equal(t, "id", orig.Tables[0].PrimaryKey.Columns[0])
	assert.NotNil(t, orig.Table("customers"))
	assert.Nil(t, orig.Table("missing"))
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("```{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, StripFence("  {\"a\":1}  "))
}
