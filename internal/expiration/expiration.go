// Package expiration destroys expired snapshots, promoting a surviving
// alias to physical when needed, so no live snapshot ever references a
// deleted path.
package expiration

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hkoerber/rbackupd/internal/catalog"
)

// Executor destroys expired snapshots in the order given, processing each
// independently. Callers pass entries pre-sorted oldest first
// (retention.Expired already returns them that way).
type Executor struct {
	Log zerolog.Logger
}

// New constructs an Executor.
func New(log zerolog.Logger) *Executor {
	return &Executor{Log: log}
}

// Expire processes one expired entry against the current catalog. A
// failed delete is logged and treated as non-fatal; the remaining
// expirations still run.
func (x *Executor) Expire(cat *catalog.Catalog, entry catalog.Entry) error {
	if err := x.expire(cat, entry); err != nil {
		x.Log.Error().Str("snapshot", entry.Name()).Err(err).Msg("failed to expire snapshot")
		return err
	}
	return nil
}

func (x *Executor) expire(cat *catalog.Catalog, entry catalog.Entry) error {
	if isSymlink(entry) {
		return os.Remove(entry.Path)
	}

	aliases := cat.AliasesOf(entry)
	if len(aliases) == 0 {
		return os.RemoveAll(entry.Path)
	}

	s0 := aliases[0]
	if err := os.Remove(s0.Path); err != nil {
		return fmt.Errorf("removing alias %s before promotion: %w", s0.Name(), err)
	}
	if err := os.Rename(entry.Path, s0.Path); err != nil {
		return fmt.Errorf("promoting %s to %s: %w", entry.Name(), s0.Name(), err)
	}

	for _, sibling := range aliases[1:] {
		if err := os.Remove(sibling.Path); err != nil {
			return fmt.Errorf("removing alias %s for relink: %w", sibling.Name(), err)
		}
		if err := os.Symlink(s0.Path, sibling.Path); err != nil {
			return fmt.Errorf("relinking alias %s to promoted path %s: %w", sibling.Name(), s0.Path, err)
		}
	}
	return nil
}

func isSymlink(entry catalog.Entry) bool {
	info, err := os.Lstat(entry.Path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// ExpireAll processes every entry in order, continuing past individual
// failures and returning the accumulated errors.
func (x *Executor) ExpireAll(cat *catalog.Catalog, entries []catalog.Entry) []error {
	var errs []error
	for _, e := range entries {
		if err := x.Expire(cat, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// RepairLatest re-points the destination's `latest` symlink after
// expirations may have deleted or moved its target. A still-resolving
// link is left alone; a dangling one is re-pointed at the most recent
// remaining physical snapshot, or removed when none is left.
func (x *Executor) RepairLatest(destination string) error {
	latest := filepath.Join(destination, catalog.LatestSymlinkName)
	if _, err := os.Lstat(latest); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if _, err := os.Stat(latest); err == nil {
		return nil
	}

	if err := os.Remove(latest); err != nil {
		return fmt.Errorf("removing dangling latest symlink: %w", err)
	}

	cat, err := catalog.Scan(destination, x.Log)
	if err != nil {
		return err
	}
	phys, ok := cat.LatestPhysical()
	if !ok {
		return nil
	}
	if err := os.Symlink(phys.Path, latest); err != nil {
		return fmt.Errorf("re-pointing latest to %s: %w", phys.Name(), err)
	}
	x.Log.Info().Str("snapshot", phys.Name()).Msg("re-pointed latest symlink after expiration")
	return nil
}
