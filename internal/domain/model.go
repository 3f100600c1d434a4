// Package domain holds the core records of the index migration system:
// logical indexes, their physical schema versions, and the durable actions
// that mutate them.
package domain

import (
	"fmt"
	"time"
)

// LogicalIndex is the stable, user-facing name for a search index concept.
// Physical incarnations of it are Versions; at most one is active at a time.
type LogicalIndex struct {
	Name            string
	ActiveVersionID int64 // 0 = no active version
	CreatedAt       time.Time
}

// HasActiveVersion reports whether an active version pointer is set.
func (i LogicalIndex) HasActiveVersion() bool { return i.ActiveVersionID != 0 }

// Version is one physical schema incarnation of a logical index. The numeric
// ID is strictly increasing within a logical index and is the sole ordering
// key for older/newer queries.
type Version struct {
	ID         int64
	Index      string // logical index base name
	Prefix     string // environment prefix, e.g. "test_"
	SchemaJSON string // canonical schema JSON sent to the search engine
	SchemaHash string // content hash of SchemaJSON
	Tag        string // codebase tag that produced this version
	CreatedAt  time.Time
	DeletedAt  time.Time // zero = live (soft delete marker)
}

// PhysicalName is the literal index identifier used against the search
// engine: {prefix}{base}-{id}.
func (v Version) PhysicalName() string {
	return fmt.Sprintf("%s%s-%d", v.Prefix, v.Index, v.ID)
}

// Deleted reports whether the version has been soft-deleted.
func (v Version) Deleted() bool { return !v.DeletedAt.IsZero() }

// ActionKind identifies one lifecycle operation.
type ActionKind string

// Lifecycle action kinds.
const (
	KindCreateIndex        ActionKind = "create_index"
	KindUpdateIndex        ActionKind = "update_index"
	KindActivateIndex      ActionKind = "activate_index"
	KindDeactivateIndex    ActionKind = "deactivate_index"
	KindClearIndex         ActionKind = "clear_index"
	KindDropIndex          ActionKind = "drop_index"
	KindPartialUpdateIndex ActionKind = "partial_update_index"
)

// ActionStatus is the state of an action's execution.
type ActionStatus string

// Action statuses. Transitions are monotonic:
// queued -> in_progress -> complete | aborted.
const (
	StatusQueued     ActionStatus = "queued"
	StatusInProgress ActionStatus = "in_progress"
	StatusComplete   ActionStatus = "complete"
	StatusAborted    ActionStatus = "aborted"
)

// Action is the durable record of one lifecycle operation execution. Actions
// form a tree via ParentID for batch fan-out; the root has ParentID 0. The
// record is never deleted: it is the audit trail.
type Action struct {
	ID           int64
	Kind         ActionKind
	Status       ActionStatus
	Index        string
	VersionID    int64 // 0 = none resolved yet
	ParentID     int64 // 0 = root of the action tree
	StartedAt    time.Time
	EndedAt      time.Time
	LastModified time.Time
	Argv         string // invocation arguments, for audit
	DocsAffected int64
	DocsFailed   int64
	TaskParams   string // JSON-encoded ChunkParams for partial updates
}

// Finished reports whether the action reached a terminal status.
func (a Action) Finished() bool {
	return a.Status == StatusComplete || a.Status == StatusAborted
}

// FanoutMode selects which sibling versions an action fans out over,
// relative to a pivot version.
type FanoutMode int

// Fan-out modes.
const (
	FanoutNone FanoutMode = iota
	FanoutOlder
	FanoutNewer
)

func (m FanoutMode) String() string {
	switch m {
	case FanoutOlder:
		return "older"
	case FanoutNewer:
		return "newer"
	default:
		return "none"
	}
}

// ChunkParams are the persisted task parameters of one partial update chunk.
type ChunkParams struct {
	BatchNum   int      `json:"batch_num"` // 1-based
	IDs        []string `json:"ids"`
	StartIndex int      `json:"start_index"`
	EndIndex   int      `json:"end_index"`
	MaxBatches int      `json:"max_batch_num"`
	TotalDocs  int      `json:"total_docs_expected"`
	BatchItems int      `json:"batch_num_items"`
	MaxRetries int      `json:"max_retries"`
	Workers    int      `json:"workers"`
}

// Document is one index-ready record submitted to the search engine.
type Document struct {
	ID   string
	Body map[string]any
}
