// Package document defines the two documents dbtforge streams from the LLM:
// the inferred Schema and the DBT RuleSet.
//
// JSON tags are the generation contract with the model. After Normalize every
// list field at every level is a non-nil slice, so renderers can range over a
// document at any point of a stream.
package document

// Schema is the relational model inferred from the uploaded sheets.
type Schema struct {
	Tables                  []Table         `json:"schemas"`
	Relationships           []Relationship  `json:"relationships"`
	SuggestedJoins          []SuggestedJoin `json:"suggestedJoins"`
	ModelingRecommendations []string        `json:"modelingRecommendations"`
}

// Table classification tags.
const (
	TableFact      = "fact"
	TableDimension = "dimension"
	TableLookup    = "lookup"
	TableBridge    = "bridge"
)

// Table is one entity of the schema. Name uniqueness is part of the
// generation contract and is not checked here.
type Table struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	TableType   string      `json:"tableType,omitempty"`
	Columns     []Column    `json:"columns"`
	PrimaryKey  *PrimaryKey `json:"primaryKey,omitempty"`
}

// PrimaryKey describes the chosen key of a table.
type PrimaryKey struct {
	Columns    []string `json:"columns"`
	Type       string   `json:"type"` // single, composite, surrogate
	Confidence string   `json:"confidence"`
}

// Column is one attribute of a table.
type Column struct {
	Name         string         `json:"name"`
	DataType     string         `json:"dataType"`
	Description  string         `json:"description"`
	IsPrimaryKey bool           `json:"isPrimaryKey"`
	IsForeignKey bool           `json:"isForeignKey"`
	IsPII        bool           `json:"isPII"`
	ForeignKey   *ForeignKeyRef `json:"foreignKeyReference,omitempty"`
	DataQuality  []string       `json:"dataQuality"`
	Constraints  []string       `json:"constraints"`
}

// ForeignKeyRef points at another table's column by name.
type ForeignKeyRef struct {
	Table      string `json:"table"`
	Column     string `json:"column"`
	Confidence string `json:"confidence"`
}

// Relationship cardinalities.
const (
	OneToOne   = "one-to-one"
	OneToMany  = "one-to-many"
	ManyToMany = "many-to-many"
)

// Relationship links two (table, column) endpoints by name. It does not own
// the tables it references.
type Relationship struct {
	FromTable   string `json:"fromTable"`
	FromColumn  string `json:"fromColumn"`
	ToTable     string `json:"toTable"`
	ToColumn    string `json:"toColumn"`
	Type        string `json:"relationshipType"`
	JoinType    string `json:"joinType"`
	Confidence  string `json:"confidence"`
	Description string `json:"description"`
}

// SuggestedJoin is an analytic join the model recommends.
type SuggestedJoin struct {
	Tables        []string `json:"tables"`
	JoinCondition string   `json:"joinCondition"`
	JoinType      string   `json:"joinType"`
	UseCase       string   `json:"useCase"`
}

// Table returns the named table, or nil.
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}

// Normalize replaces nil slices with empty ones, recursively.
func (s *Schema) Normalize() {
	s.Tables = orEmpty(s.Tables)
	s.Relationships = orEmpty(s.Relationships)
	s.SuggestedJoins = orEmpty(s.SuggestedJoins)
	s.ModelingRecommendations = orEmpty(s.ModelingRecommendations)
	for i := range s.Tables {
		t := &s.Tables[i]
		t.Columns = orEmpty(t.Columns)
		if t.PrimaryKey != nil {
			t.PrimaryKey.Columns = orEmpty(t.PrimaryKey.Columns)
		}
		for j := range t.Columns {
			c := &t.Columns[j]
			c.DataQuality = orEmpty(c.DataQuality)
			c.Constraints = orEmpty(c.Constraints)
		}
	}
	for i := range s.SuggestedJoins {
		s.SuggestedJoins[i].Tables = orEmpty(s.SuggestedJoins[i].Tables)
	}
}

// Clone returns a deep copy.
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{
		Tables:                  make([]Table, len(s.Tables)),
		Relationships:           cloneSlice(s.Relationships),
		SuggestedJoins:          make([]SuggestedJoin, len(s.SuggestedJoins)),
		ModelingRecommendations: cloneSlice(s.ModelingRecommendations),
	}
	for i, t := range s.Tables {
		t.Columns = make([]Column, len(s.Tables[i].Columns))
		for j, c := range s.Tables[i].Columns {
			c.DataQuality = cloneSlice(c.DataQuality)
			c.Constraints = cloneSlice(c.Constraints)
			if c.ForeignKey != nil {
				fk := *c.ForeignKey
				c.ForeignKey = &fk
			}
			t.Columns[j] = c
		}
		if t.PrimaryKey != nil {
			pk := *t.PrimaryKey
			pk.Columns = cloneSlice(pk.Columns)
			t.PrimaryKey = &pk
		}
		out.Tables[i] = t
	}
	for i, j := range s.SuggestedJoins {
		j.Tables = cloneSlice(j.Tables)
		out.SuggestedJoins[i] = j
	}
	return out
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// cloneSlice copies s, preserving nil-ness.
func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
