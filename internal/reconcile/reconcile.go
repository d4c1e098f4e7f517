// Package reconcile merges a chat patch into a finalized RuleSet.
package reconcile

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"dbtforge/internal/document"
	"dbtforge/internal/logging"
)

// ErrNoRuleSet is returned when there is nothing to patch yet.
var ErrNoRuleSet = errors.New("no DBT rules to update: generate rules first")

// CollisionSuffix is appended to a new rule whose name is already taken.
const CollisionSuffix = "_additional"

// Result is the outcome of one Reconcile call.
type Result struct {
	Updated *document.RuleSet
	Log     []document.ChangeLogEntry
	// LastTable is the last table added or modified, for scrolling the view.
	LastTable string
}

// Reconcile applies patch to a deep copy of current. current is never
// modified, and the same inputs always give the same Result.
func Reconcile(current *document.RuleSet, patch Patch) (Result, error) {
	if current == nil || current.Rules == nil {
		return Result{}, ErrNoRuleSet
	}

	updated := current.Clone()
	updated.Normalize()
	res := Result{Updated: updated, Log: make([]document.ChangeLogEntry, 0, len(patch.Rules)+2)}

	for i, pr := range patch.Rules {
		name := strings.TrimSpace(pr.TableName)
		if name == "" {
			res.Log = append(res.Log, document.ChangeLogEntry{
				Kind:    document.ChangeError,
				Message: fmt.Sprintf("rule %d in the update has no tableName and was skipped", i+1),
			})
			continue
		}
		pr.TableName = name

		idx := updated.Rule(name)
		if idx >= 0 && !pr.IsNewRule {
			fields := pr.applyTo(&updated.Rules[idx])
			msg := fmt.Sprintf("Modified rule for %s", name)
			if len(fields) > 0 {
				msg += " (" + strings.Join(fields, ", ") + ")"
			}
			res.Log = append(res.Log, document.ChangeLogEntry{Kind: document.ChangeModified, Message: msg, Table: name})
			res.LastTable = name
			continue
		}

		tr := pr.rule()
		if idx >= 0 {
			tr.TableName = uniqueName(updated, name)
		}
		updated.Rules = append(updated.Rules, tr)
		res.Log = append(res.Log, document.ChangeLogEntry{
			Kind:    document.ChangeAdded,
			Message: fmt.Sprintf("Added rule for %s", tr.TableName),
			Table:   tr.TableName,
		})
		res.LastTable = tr.TableName
	}

	if patch.GlobalRecommendations != nil {
		updated.GlobalRecommendations = append([]string{}, patch.GlobalRecommendations...)
		res.Log = append(res.Log, document.ChangeLogEntry{
			Kind:    document.ChangeModified,
			Message: fmt.Sprintf("Replaced global recommendations (%d)", len(updated.GlobalRecommendations)),
		})
	}
	if patch.Summary != nil {
		updated.Summary = *patch.Summary
		res.Log = append(res.Log, document.ChangeLogEntry{Kind: document.ChangeModified, Message: "Updated summary"})
	}

	logging.ReconcileDebug("applied %d patch rules: %d log entries, last table %q", len(patch.Rules), len(res.Log), res.LastTable)
	return res, nil
}

var collisionSuffixRE = regexp.MustCompile(regexp.QuoteMeta(CollisionSuffix) + `(_\d+)?$`)

// uniqueName returns name with the collision suffix, numbered if needed. A
// name that already carries the suffix is numbered from its base instead of
// gaining a second suffix.
func uniqueName(rs *document.RuleSet, name string) string {
	base := name
	if loc := collisionSuffixRE.FindStringIndex(name); loc != nil && loc[0] > 0 {
		base = name[:loc[0]]
	}
	candidate := base + CollisionSuffix
	for n := 2; rs.Rule(candidate) >= 0; n++ {
		candidate = fmt.Sprintf("%s%s_%d", base, CollisionSuffix, n)
	}
	return candidate
}

// FormatLog renders the change log for display.
func FormatLog(res Result) string {
	if len(res.Log) == 0 {
		return "No changes were applied to the DBT rules."
	}
	var sb strings.Builder
	sb.WriteString("Updated DBT rules:\n")
	for _, e := range res.Log {
		switch e.Kind {
		case document.ChangeAdded:
			sb.WriteString("+ ")
		case document.ChangeError:
			sb.WriteString("! ")
		default:
			sb.WriteString("~ ")
		}
		sb.WriteString(e.Message)
		sb.WriteByte('\n')
	}
	if res.LastTable != "" {
		fmt.Fprintf(&sb, "Last modified table: %s\n", res.LastTable)
	}
	return strings.TrimRight(sb.String(), "\n")
}
