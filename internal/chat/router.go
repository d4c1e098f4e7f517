// Package chat answers questions about the generated DBT rules and applies
// rule edits the model sends back as inline patches.
package chat

import (
	"strings"

	"dbtforge/internal/document"
)

// Intent is what a chat message asks for.
type Intent int

const (
	PlainQuestion Intent = iota
	StructuralEdit
)

func (i Intent) String() string {
	if i == StructuralEdit {
		return "structural_edit"
	}
	return "plain_question"
}

// Classifier decides the intent of a message.
type Classifier interface {
	Classify(message string, current *document.RuleSet) Intent
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(message string, current *document.RuleSet) Intent

func (f ClassifierFunc) Classify(message string, current *document.RuleSet) Intent {
	return f(message, current)
}

// KeywordClassifier treats any message mentioning "rule" or "dbt" as an
// edit request. It is a substring heuristic, so words like "ruler" match too.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(message string, _ *document.RuleSet) Intent {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "rule") || strings.Contains(lower, "dbt") {
		return StructuralEdit
	}
	return PlainQuestion
}

// Router routes messages with a Classifier, KeywordClassifier by default.
type Router struct {
	classifier Classifier
}

// NewRouter returns a Router. A nil classifier means KeywordClassifier.
func NewRouter(c Classifier) *Router {
	if c == nil {
		c = KeywordClassifier{}
	}
	return &Router{classifier: c}
}

// Route classifies message.
func (r *Router) Route(message string, current *document.RuleSet) Intent {
	return r.classifier.Classify(message, current)
}
