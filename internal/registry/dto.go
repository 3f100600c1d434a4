package registry

import (
	"strconv"
	"time"

	"github.com/searchops/indexmigrate/internal/domain"
)

// Hash field mapping for registry records. Times are RFC3339Nano strings,
// zero times are stored as "".

func indexToHash(i domain.LogicalIndex) map[string]string {
	return map[string]string{
		"name":           i.Name,
		"active_version": strconv.FormatInt(i.ActiveVersionID, 10),
		"created_at":     formatTime(i.CreatedAt),
	}
}

func indexFromHash(h map[string]string) domain.LogicalIndex {
	return domain.LogicalIndex{
		Name:            h["name"],
		ActiveVersionID: parseInt(h["active_version"]),
		CreatedAt:       parseTime(h["created_at"]),
	}
}

func versionToHash(v domain.Version) map[string]string {
	return map[string]string{
		"id":          strconv.FormatInt(v.ID, 10),
		"index":       v.Index,
		"prefix":      v.Prefix,
		"schema_json": v.SchemaJSON,
		"schema_hash": v.SchemaHash,
		"tag":         v.Tag,
		"created_at":  formatTime(v.CreatedAt),
		"deleted_at":  formatTime(v.DeletedAt),
	}
}

func versionFromHash(h map[string]string) domain.Version {
	return domain.Version{
		ID:         parseInt(h["id"]),
		Index:      h["index"],
		Prefix:     h["prefix"],
		SchemaJSON: h["schema_json"],
		SchemaHash: h["schema_hash"],
		Tag:        h["tag"],
		CreatedAt:  parseTime(h["created_at"]),
		DeletedAt:  parseTime(h["deleted_at"]),
	}
}

func actionToHash(a domain.Action) map[string]string {
	return map[string]string{
		"id":            strconv.FormatInt(a.ID, 10),
		"kind":          string(a.Kind),
		"status":        string(a.Status),
		"index":         a.Index,
		"version_id":    strconv.FormatInt(a.VersionID, 10),
		"parent_id":     strconv.FormatInt(a.ParentID, 10),
		"started_at":    formatTime(a.StartedAt),
		"ended_at":      formatTime(a.EndedAt),
		"last_modified": formatTime(a.LastModified),
		"argv":          a.Argv,
		"docs_affected": strconv.FormatInt(a.DocsAffected, 10),
		"docs_failed":   strconv.FormatInt(a.DocsFailed, 10),
		"task_params":   a.TaskParams,
	}
}

func actionFromHash(h map[string]string) domain.Action {
	return domain.Action{
		ID:           parseInt(h["id"]),
		Kind:         domain.ActionKind(h["kind"]),
		Status:       domain.ActionStatus(h["status"]),
		Index:        h["index"],
		VersionID:    parseInt(h["version_id"]),
		ParentID:     parseInt(h["parent_id"]),
		StartedAt:    parseTime(h["started_at"]),
		EndedAt:      parseTime(h["ended_at"]),
		LastModified: parseTime(h["last_modified"]),
		Argv:         h["argv"],
		DocsAffected: parseInt(h["docs_affected"]),
		DocsFailed:   parseInt(h["docs_failed"]),
		TaskParams:   h["task_params"],
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
