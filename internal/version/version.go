// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// CodebaseTag identifies the build that produced an index version. Recorded
// on every Version row so operators can tell which deploy created a schema.
func CodebaseTag() string {
	tag := Version + "-" + Commit
	if len(tag) > 63 {
		tag = tag[:63]
	}
	return tag
}
