package repository

import (
	"fmt"
	"strings"
	"time"
)

// TimestampFormat is the sortable, filesystem-safe layout embedded in every
// snapshot directory name: YYYY-MM-DDTHH-MM-SS. Colons are replaced with
// dashes because some filesystems (and all of Windows, not that this daemon
// targets it) reject them in path components.
const TimestampFormat = "2006-01-02T15-04-05"

// SnapshotKind distinguishes how a snapshot's directory entry was produced.
// Physical and hardlink-alias snapshots are indistinguishable on disk once
// built (both are real directories whose files happen to share inodes with
// the reference snapshot), so the catalog only ever reports Physical or
// SymlinkAlias; hardlink fan-out is a construction-time concept in the
// overlap package and is never recovered from a directory scan.
type SnapshotKind int

const (
	Physical SnapshotKind = iota
	SymlinkAlias
)

// Snapshot is one timestamped directory (or symlink to one) inside a
// Repository's destination directory.
type Snapshot struct {
	TaskName  string
	Interval  string
	Timestamp time.Time
	Kind      SnapshotKind
}

// Name renders the snapshot's directory name:
// <taskname>_<interval>_<YYYY-MM-DDTHH-MM-SS>.
func (s Snapshot) Name() string {
	return fmt.Sprintf("%s_%s_%s", s.TaskName, s.Interval, s.Timestamp.Format(TimestampFormat))
}

// ParseSnapshotName parses a directory name back into its fields. Malformed
// names (wrong field count, unparseable timestamp) return an error; callers
// in the catalog log these at warning level and skip the entry rather than
// treating it as fatal.
func ParseSnapshotName(name string) (Snapshot, error) {
	// Split from the right: the last field is a fixed-format timestamp and
	// the second-to-last is the interval name, so a task name containing
	// underscores still parses correctly.
	lastSep := strings.LastIndex(name, "_")
	if lastSep < 0 {
		return Snapshot{}, fmt.Errorf("malformed snapshot name %q: expected 3 underscore-separated fields", name)
	}
	timestampPart := name[lastSep+1:]
	rest := name[:lastSep]

	secondSep := strings.LastIndex(rest, "_")
	if secondSep < 0 {
		return Snapshot{}, fmt.Errorf("malformed snapshot name %q: expected 3 underscore-separated fields", name)
	}
	taskName := rest[:secondSep]
	interval := rest[secondSep+1:]
	if taskName == "" || interval == "" {
		return Snapshot{}, fmt.Errorf("malformed snapshot name %q: empty field", name)
	}

	ts, err := time.ParseInLocation(TimestampFormat, timestampPart, time.Local)
	if err != nil {
		return Snapshot{}, fmt.Errorf("malformed snapshot name %q: %w", name, err)
	}
	return Snapshot{
		TaskName:  taskName,
		Interval:  interval,
		Timestamp: ts,
	}, nil
}
