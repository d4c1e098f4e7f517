package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"

	"dbtforge/internal/document"
)

// Patch is a partial RuleSet sent by the model during chat. A nil slice or
// pointer means the field was absent and must be left alone.
type Patch struct {
	Rules                 []PatchRule `json:"dbtRules"`
	GlobalRecommendations []string    `json:"globalRecommendations"`
	Summary               *string     `json:"summary"`
}

// PatchRule is a TableRule whose fields are all optional. IsNewRule asks for
// an addition even when a rule with the same name exists; it is never stored.
type PatchRule struct {
	TableName       string                      `json:"tableName"`
	IsNewRule       bool                        `json:"isNewRule"`
	ModelSQL        *string                     `json:"modelSql"`
	YAMLConfig      *string                     `json:"yamlConfig"`
	Materialization *string                     `json:"materialization"`
	ColumnTests     []document.ColumnTest       `json:"columnTests"`
	Recommendations []string                    `json:"recommendations"`
	Relationships   []document.RuleRelationship `json:"relationships"`
}

// ParsePatch strictly parses a patch payload, tolerating a surrounding
// markdown fence.
func ParsePatch(text string) (Patch, error) {
	body := document.StripFence(text)
	if !strings.HasPrefix(body, "{") {
		return Patch{}, fmt.Errorf("patch must be a JSON object")
	}
	var p Patch
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return Patch{}, fmt.Errorf("invalid patch JSON: %w", err)
	}
	return p, nil
}

// Empty reports whether the patch carries no changes at all.
func (p Patch) Empty() bool {
	return len(p.Rules) == 0 && p.GlobalRecommendations == nil && p.Summary == nil
}

// applyTo overwrites the present fields onto tr and returns their JSON names.
func (pr PatchRule) applyTo(tr *document.TableRule) []string {
	var fields []string
	if pr.ModelSQL != nil {
		tr.ModelSQL = *pr.ModelSQL
		fields = append(fields, "modelSql")
	}
	if pr.YAMLConfig != nil {
		tr.YAMLConfig = *pr.YAMLConfig
		fields = append(fields, "yamlConfig")
	}
	if pr.Materialization != nil {
		tr.Materialization = *pr.Materialization
		fields = append(fields, "materialization")
	}
	if pr.ColumnTests != nil {
		tr.ColumnTests = pr.ColumnTests
		fields = append(fields, "columnTests")
	}
	if pr.Recommendations != nil {
		tr.Recommendations = pr.Recommendations
		fields = append(fields, "recommendations")
	}
	if pr.Relationships != nil {
		tr.Relationships = pr.Relationships
		fields = append(fields, "relationships")
	}
	*tr = tr.Clone()
	tr.Normalize()
	return fields
}

// rule builds a complete TableRule from the patch entry.
func (pr PatchRule) rule() document.TableRule {
	tr := document.TableRule{TableName: pr.TableName}
	pr.applyTo(&tr)
	return tr
}
