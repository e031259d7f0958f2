package expiration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/sumdb/dirhash"

	"github.com/hkoerber/rbackupd/internal/catalog"
)

func mkPhysical(t *testing.T, dest, name string) string {
	t.Helper()
	p := filepath.Join(dest, name)
	require.NoError(t, os.MkdirAll(p, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p, "f.txt"), []byte("x"), 0o644))
	return p
}

func TestExpireSymlinkJustDeletesLink(t *testing.T) {
	dest := t.TempDir()
	physical := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")
	aliasPath := filepath.Join(dest, "t_weekly_2024-01-01T00-00-00")
	require.NoError(t, os.Symlink(physical, aliasPath))

	cat, err := catalog.Scan(dest, zerolog.Nop())
	require.NoError(t, err)

	var aliasEntry catalog.Entry
	for _, e := range cat.All() {
		if e.Interval == "weekly" {
			aliasEntry = e
		}
	}
	require.NotEmpty(t, aliasEntry.Path)

	x := New(zerolog.Nop())
	require.NoError(t, x.Expire(cat, aliasEntry))

	_, err = os.Lstat(aliasPath)
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, physical)
}

func TestExpirePhysicalWithNoAliasesRemoves(t *testing.T) {
	dest := t.TempDir()
	physical := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")

	cat, err := catalog.Scan(dest, zerolog.Nop())
	require.NoError(t, err)

	x := New(zerolog.Nop())
	require.NoError(t, x.Expire(cat, cat.All()[0]))

	_, err = os.Stat(physical)
	assert.True(t, os.IsNotExist(err))
}

func TestExpirePhysicalWithAliasesPromotes(t *testing.T) {
	dest := t.TempDir()
	physical := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")
	// AliasesOf orders same-timestamp aliases by name, so t_monthly_* is
	// the promotion target and t_weekly_* gets relinked to it.
	promoted := filepath.Join(dest, "t_monthly_2024-01-01T00-00-00")
	relinked := filepath.Join(dest, "t_weekly_2024-01-01T00-00-00")
	require.NoError(t, os.Symlink(physical, promoted))
	require.NoError(t, os.Symlink(physical, relinked))

	hashBefore, err := dirhash.HashDir(physical, "snapshot", dirhash.Hash1)
	require.NoError(t, err)

	cat, err := catalog.Scan(dest, zerolog.Nop())
	require.NoError(t, err)

	var physicalEntry catalog.Entry
	for _, e := range cat.All() {
		if e.Interval == "daily" {
			physicalEntry = e
		}
	}

	x := New(zerolog.Nop())
	require.NoError(t, x.Expire(cat, physicalEntry))

	// Original physical path is gone, replaced by the promoted alias's
	// former path, with the directory content intact.
	_, err = os.Lstat(physical)
	assert.True(t, os.IsNotExist(err))
	assert.DirExists(t, promoted)

	hashAfter, err := dirhash.HashDir(promoted, "snapshot", dirhash.Hash1)
	require.NoError(t, err)
	assert.Equal(t, hashBefore, hashAfter)

	// The remaining alias still resolves, now through the promoted path.
	resolved, err := filepath.EvalSymlinks(relinked)
	require.NoError(t, err)
	assert.Equal(t, promoted, resolved)
	assert.FileExists(t, filepath.Join(relinked, "f.txt"))
}

func TestRepairLatestRepointsDanglingLink(t *testing.T) {
	dest := t.TempDir()
	oldSnap := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")
	newSnap := mkPhysical(t, dest, "t_daily_2024-01-02T00-00-00")
	latest := filepath.Join(dest, "latest")
	require.NoError(t, os.Symlink(oldSnap, latest))

	cat, err := catalog.Scan(dest, zerolog.Nop())
	require.NoError(t, err)

	var oldEntry catalog.Entry
	for _, e := range cat.All() {
		if e.Path == oldSnap {
			oldEntry = e
		}
	}

	x := New(zerolog.Nop())
	require.NoError(t, x.Expire(cat, oldEntry))
	require.NoError(t, x.RepairLatest(dest))

	resolved, err := filepath.EvalSymlinks(latest)
	require.NoError(t, err)
	assert.Equal(t, newSnap, resolved)
}

func TestRepairLatestLeavesValidLinkAlone(t *testing.T) {
	dest := t.TempDir()
	snap := mkPhysical(t, dest, "t_daily_2024-01-02T00-00-00")
	latest := filepath.Join(dest, "latest")
	require.NoError(t, os.Symlink(snap, latest))

	x := New(zerolog.Nop())
	require.NoError(t, x.RepairLatest(dest))

	target, err := os.Readlink(latest)
	require.NoError(t, err)
	assert.Equal(t, snap, target)
}

func TestRepairLatestRemovesLinkWhenNoSnapshotsRemain(t *testing.T) {
	dest := t.TempDir()
	snap := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")
	latest := filepath.Join(dest, "latest")
	require.NoError(t, os.Symlink(snap, latest))
	require.NoError(t, os.RemoveAll(snap))

	x := New(zerolog.Nop())
	require.NoError(t, x.RepairLatest(dest))

	_, err := os.Lstat(latest)
	assert.True(t, os.IsNotExist(err))
}

func TestExpireAllContinuesPastFailure(t *testing.T) {
	dest := t.TempDir()
	physical := mkPhysical(t, dest, "t_daily_2024-01-01T00-00-00")
	alias := filepath.Join(dest, "t_weekly_2024-01-01T00-00-00")
	require.NoError(t, os.Symlink(physical, alias))
	mkPhysical(t, dest, "t_daily_2024-01-02T00-00-00")

	cat, err := catalog.Scan(dest, zerolog.Nop())
	require.NoError(t, err)
	entries := cat.All()

	// Remove the alias symlink out from under the executor so expiring the
	// aliased 2024-01-01 entries fails, and assert the unaliased 2024-01-02
	// entry is still processed.
	require.NoError(t, os.Remove(alias))

	x := New(zerolog.Nop())
	errs := x.ExpireAll(cat, entries)
	assert.NotEmpty(t, errs)

	for _, e := range entries {
		if e.Name() == "t_daily_2024-01-02T00-00-00" {
			_, statErr := os.Stat(e.Path)
			assert.True(t, os.IsNotExist(statErr))
		}
	}
}
