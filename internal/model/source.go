package model

// Dialect names the query language a source accepts.
type Dialect string

const (
	DialectDAX Dialect = "dax"
	DialectSQL Dialect = "sql"
)

// SourceDescriptor is a read-only snapshot of one remote tabular source as
// reported by a catalog. ID is namespaced as "<provider>:<native id>".
type SourceDescriptor struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	WorkspaceID   string   `json:"workspace_id" yaml:"workspace_id"`
	WorkspaceName string   `json:"workspace_name,omitempty" yaml:"workspace_name"`
	Provider      string   `json:"provider" yaml:"provider"`
	Dialect       Dialect  `json:"dialect" yaml:"dialect"`
	Fields        []string `json:"fields,omitempty" yaml:"fields"`
}

// RelevanceScore attaches a ranking score to a source for one request.
type RelevanceScore struct {
	Source  SourceDescriptor `json:"source"`
	Score   float64          `json:"score"`
	Matched []string         `json:"matched,omitempty"`
}
