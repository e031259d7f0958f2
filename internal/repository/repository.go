package repository

import (
	"time"

	"github.com/robfig/cron/v3"
)

// IntervalClass is one retention class: a cron-style schedule plus
// count/age keep limits. Classes are held in an explicit, stable order;
// earlier classes win when several are due at once.
type IntervalClass struct {
	Name     string
	Schedule cron.Schedule
	// KeepCount is the number of newest snapshots in this class that are
	// always kept, regardless of age. Zero means "keep none by count" (age
	// alone, if configured, still protects snapshots).
	KeepCount int
	// KeepAge is the maximum age a snapshot in this class may reach before
	// it becomes eligible for expiration, unless protected by KeepCount.
	// Zero means "no age limit".
	KeepAge time.Duration
}

// Repository is one configured backup task: a destination directory, its
// ordered interval classes, sources, and rsync invocation parameters.
// Configuration is immutable for the process lifetime; age cutoffs are
// never stored here, they are re-derived from KeepAge against the current
// wall time every tick. RsyncArgs is fully resolved by the time a
// Repository is constructed: one_filesystem's "-x" and the ssh_args
// "--rsh <cmd>" pair (if configured) are already folded in.
type Repository struct {
	TaskName    string
	Destination string
	Sources     []string
	Intervals   []IntervalClass
	Filter      []FilterRule
	RsyncArgs   []string
	Overlapping OverlappingPolicy
	Logfile     *RsyncLogfileOptions
}

// OverlappingPolicy selects how multiple simultaneously-due interval
// classes collapse into one materialized snapshot.
type OverlappingPolicy int

const (
	Single OverlappingPolicy = iota
	Hardlink
	Symlink
)

// ParseOverlappingPolicy parses the config string value for `overlapping`.
func ParseOverlappingPolicy(s string) (OverlappingPolicy, bool) {
	switch s {
	case "single":
		return Single, true
	case "hardlink":
		return Hardlink, true
	case "symlink":
		return Symlink, true
	default:
		return 0, false
	}
}

// RsyncLogfileOptions configures rsync's own --log-file/--log-file-format
// flags, separate from this daemon's application log.
type RsyncLogfileOptions struct {
	Name   string
	Format string
}

// BackupParams is the ephemeral set of values the builder needs to
// materialize exactly one snapshot directory.
type BackupParams struct {
	Sources        []string
	DestinationDir string
	FolderName     string
	// LinkRefFolder is the folder name (not full path) of the reference
	// snapshot to pass as --link-dest, or "" if there is none (first
	// snapshot in the repository).
	LinkRefFolder string
	Filter        []FilterRule
	RsyncArgs     []string
	Logfile       *RsyncLogfileOptions
}

// KeepAgeCutoff returns the wall-clock cutoff time for a class's KeepAge,
// computed fresh against now so aging always uses a current reference
// instant rather than a cutoff cached from an earlier tick.
func (c IntervalClass) KeepAgeCutoff(now time.Time) (time.Time, bool) {
	if c.KeepAge <= 0 {
		return time.Time{}, false
	}
	return now.Add(-c.KeepAge), true
}
