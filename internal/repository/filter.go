// Package repository implements the data model: Repository, Snapshot, the
// ordered interval-class list, filter rules, and the ephemeral BackupParams
// handed to the builder. Nothing in this package touches the filesystem
// beyond parsing names; scanning and mutation live in the catalog,
// builder, and expiration packages.
package repository

// FilterKind tags which rsync flag a FilterRule expands into.
type FilterKind int

const (
	Include FilterKind = iota
	Exclude
	IncludeFile
	ExcludeFile
	Filter
)

// FilterRule is one entry of the ordered filter-rule list. Order matters:
// rsync applies include/exclude/filter rules in the sequence they're given
// on the command line, so the list is never sorted or deduplicated.
type FilterRule struct {
	Kind    FilterKind
	Pattern string // the pattern, file path, or raw filter rule text
}

// Flags renders a FilterRule as the rsync command-line arguments it expands
// into, preserving the exact flag rsync expects for each kind.
func (r FilterRule) Flags() []string {
	switch r.Kind {
	case Include:
		return []string{"--include=" + r.Pattern}
	case Exclude:
		return []string{"--exclude=" + r.Pattern}
	case IncludeFile:
		return []string{"--include-from=" + r.Pattern}
	case ExcludeFile:
		return []string{"--exclude-from=" + r.Pattern}
	case Filter:
		return []string{"--filter=" + r.Pattern}
	default:
		return nil
	}
}
