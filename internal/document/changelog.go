package document

// ChangeKind tags a change log entry.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeError    ChangeKind = "error"
)

// ChangeLogEntry describes one effect of applying a patch. It is transient
// and never persisted.
type ChangeLogEntry struct {
	Kind    ChangeKind `json:"kind"`
	Message string     `json:"message"`
	Table   string     `json:"table,omitempty"`
}
