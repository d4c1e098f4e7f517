package prompt

import (
	"errors"
	"strings"

	"dbtforge/internal/document"
	"dbtforge/internal/ingest"
)

// ErrNoSheets is returned when there is no input to describe.
var ErrNoSheets = errors.New("no input sheets")

const schemaSystem = `You are a senior data engineer. Infer a relational schema from sample data.
Respond with a single JSON object and nothing else, using exactly these keys:
{"schemas":[{"name":"","description":"","tableType":"fact|dimension|lookup|bridge","columns":[{"name":"","dataType":"","description":"","isPrimaryKey":false,"isForeignKey":false,"isPII":false,"foreignKeyReference":{"table":"","column":"","confidence":"high|medium|low"},"dataQuality":[],"constraints":[]}],"primaryKey":{"columns":[],"type":"single|composite|surrogate","confidence":""}}],
"relationships":[{"fromTable":"","fromColumn":"","toTable":"","toColumn":"","relationshipType":"one-to-one|one-to-many|many-to-many","joinType":"","confidence":"","description":""}],
"suggestedJoins":[{"tables":[],"joinCondition":"","joinType":"","useCase":""}],
"modelingRecommendations":[]}
Emit "schemas" first so tables can be shown while you are still writing.`

const rulesSystem = `You are a DBT expert. Write DBT models and tests for the given schema.
Respond with a single JSON object and nothing else, using exactly these keys:
{"dbtRules":[{"tableName":"","modelSql":"","yamlConfig":"","columnTests":[{"columnName":"","tests":["not_null",{"accepted_values":{"values":[]}}],"relationshipTests":[{"toTable":"","field":"","testType":"relationships"}]}],"recommendations":[],"materialization":"table|view|incremental|ephemeral","relationships":[{"description":"","joinLogic":""}]}],
"globalRecommendations":[],"summary":""}
Use {{ source('raw', '<table>') }} or {{ ref('<model>') }} in modelSql. yamlConfig is a complete models/<table>.yml document.`

// SchemaPrompt returns the system and user prompts for schema inference.
func SchemaPrompt(input *ingest.Result) (system, user string, err error) {
	if input == nil || len(input.Sheets) == 0 {
		return "", "", ErrNoSheets
	}
	user = Assemble(
		Section{Title: "Input files", Body: Sheets(input)},
		Section{Title: "Task", Body: "Infer tables, keys, relationships and joins for the data above."},
	)
	return schemaSystem, user, nil
}

// RulesPrompt returns the prompts for DBT rule generation.
func RulesPrompt(input *ingest.Result, schema *document.Schema) (system, user string, err error) {
	schemaJSON, err := toJSON(schema)
	if err != nil {
		return "", "", err
	}
	user = Assemble(
		Section{Title: "Schema", Body: schemaJSON},
		Section{Title: "Sample data", Body: Sheets(input)},
		Section{Title: "Task", Body: "Write one rule per table: " + tableNames(schema) + "."},
	)
	return rulesSystem, user, nil
}

// ChatSystem describes the chat protocol. Structural edits must end with
// sentinel followed by a JSON patch.
func ChatSystem(sentinel string, structural bool) string {
	var sb strings.Builder
	sb.WriteString("You are a DBT assistant helping refine generated DBT rules. Answer concisely in markdown.")
	if structural {
		sb.WriteString("\n\nIf the user asks to change the rules, explain the change briefly, then write ")
		sb.WriteString(sentinel)
		sb.WriteString(` on its own line followed by a JSON object containing only what changes:
{"dbtRules":[{"tableName":"","isNewRule":false, ...only the fields that change}],"globalRecommendations":[...],"summary":""}
Omit keys that do not change. Set "isNewRule": true to add a rule even when one with the same tableName exists.
Write nothing after the JSON object.`)
	}
	return sb.String()
}

// ChatPrompt returns the user prompt for one chat message.
func ChatPrompt(message string, rules *document.RuleSet, schema *document.Schema, turns []Turn) (string, error) {
	var rulesJSON, schemaJSON string
	var err error
	if rules != nil {
		if rulesJSON, err = toJSON(rules); err != nil {
			return "", err
		}
	}
	if schema != nil {
		if schemaJSON, err = toJSON(schema); err != nil {
			return "", err
		}
	}
	return Assemble(
		Section{Title: "Current DBT rules", Body: rulesJSON},
		Section{Title: "Schema", Body: schemaJSON},
		Section{Title: "Conversation so far", Body: history(turns)},
		Section{Title: "User message", Body: message},
	), nil
}
