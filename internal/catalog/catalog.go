// Package catalog scans a repository's destination directory, parses
// snapshot names, and maintains per-class ordered lists plus the alias
// graph between symlink snapshots and their physical targets.
package catalog

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hkoerber/rbackupd/internal/repository"
)

// LatestSymlinkName is the well-known pointer to the most recently
// completed physical snapshot.
const LatestSymlinkName = "latest"

// Entry is one scanned directory entry, resolved to its parsed Snapshot
// plus whatever the filesystem told us about its nature.
type Entry struct {
	repository.Snapshot
	// Path is the absolute path to the entry (the symlink itself for
	// SymlinkAlias entries, not its target).
	Path string
	// RealPath is the symlink-resolved path: Path with any symlinks in its
	// parent directories resolved for physical snapshots (Path itself if
	// that resolution fails), the resolved target for symlink-aliases. Used to
	// match aliases against the physical snapshot they point to without
	// assuming Path itself is already canonical (the destination directory
	// could itself sit behind a symlink).
	RealPath string
}

// Catalog is the result of one scan of a repository's destination
// directory. It is rebuilt from scratch every tick; nothing here persists
// across ticks beyond what's re-derived from the filesystem.
type Catalog struct {
	destination string
	entries     []Entry
	// aliasOf maps a symlink snapshot's name to the absolute path its
	// realpath resolves to. An index (name -> target path) rather than a
	// pointer graph keeps traversal acyclic and ownership-free.
	aliasOf map[string]string
}

// Scan reads the destination directory once and builds the Catalog.
// Malformed entries (names that don't parse, unreadable symlinks) are
// logged at warning level and skipped rather than aborting the scan.
func Scan(destination string, log zerolog.Logger) (*Catalog, error) {
	dirEntries, err := os.ReadDir(destination)
	if err != nil {
		return nil, err
	}

	cat := &Catalog{
		destination: destination,
		aliasOf:     make(map[string]string),
	}

	for _, de := range dirEntries {
		if de.Name() == LatestSymlinkName {
			continue
		}
		snap, err := repository.ParseSnapshotName(de.Name())
		if err != nil {
			log.Warn().Str("name", de.Name()).Err(err).Msg("ignoring malformed snapshot entry")
			continue
		}

		path := filepath.Join(destination, de.Name())
		info, err := os.Lstat(path)
		if err != nil {
			log.Warn().Str("name", de.Name()).Err(err).Msg("could not lstat snapshot entry")
			continue
		}

		realPath := path
		if info.Mode()&os.ModeSymlink != 0 {
			snap.Kind = repository.SymlinkAlias
			target, err := filepath.EvalSymlinks(path)
			if err != nil {
				log.Warn().Str("name", de.Name()).Err(err).Msg("could not resolve symlink snapshot target")
				continue
			}
			cat.aliasOf[de.Name()] = target
			realPath = target
		} else {
			snap.Kind = repository.Physical
			if resolved, err := filepath.EvalSymlinks(path); err == nil {
				realPath = resolved
			}
		}

		cat.entries = append(cat.entries, Entry{Snapshot: snap, Path: path, RealPath: realPath})
	}

	return cat, nil
}

// List returns every snapshot tagged with the given interval class name, in
// ascending timestamp order.
func (c *Catalog) List(class string) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Interval == class {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// ListTask returns every snapshot belonging to both the given task name and
// interval class, in ascending timestamp order. A destination directory
// may in principle be shared by more than one task, so callers that need
// to reason about a single Repository's snapshots should filter by task
// name rather than assuming a destination holds exactly one task's
// entries.
func (c *Catalog) ListTask(taskName, class string) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.TaskName == taskName && e.Interval == class {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// AllTask returns every snapshot belonging to the given task name, in
// ascending timestamp order.
func (c *Catalog) AllTask(taskName string) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.TaskName == taskName {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// All returns every snapshot entry in the repository, regardless of class,
// in ascending timestamp order.
func (c *Catalog) All() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// LatestPhysical returns the most recently timestamped physical snapshot in
// the whole repository (across all classes), or ok=false if there is none.
func (c *Catalog) LatestPhysical() (Entry, bool) {
	var best Entry
	found := false
	for _, e := range c.entries {
		if e.Kind != repository.Physical {
			continue
		}
		if !found || e.Timestamp.After(best.Timestamp) {
			best = e
			found = true
		}
	}
	return best, found
}

// AliasTarget returns the absolute path a symlink-alias snapshot resolves
// to, or ok=false if the given name isn't a known symlink alias.
func (c *Catalog) AliasTarget(name string) (string, bool) {
	target, ok := c.aliasOf[name]
	return target, ok
}

// AliasesOf returns every entry in the catalog that is a symlink-alias
// whose realpath equals the given physical snapshot's path. The order is
// deterministic: ascending timestamp, ties broken by name. The first
// entry is the one the expiration executor promotes when the physical
// snapshot expires, so the ordering here is part of the expiration
// contract, not just cosmetics.
func (c *Catalog) AliasesOf(physical Entry) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.Kind != repository.SymlinkAlias {
			continue
		}
		if e.RealPath == physical.RealPath {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Destination returns the directory this catalog was scanned from.
func (c *Catalog) Destination() string { return c.destination }
