package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkoerber/rbackupd/internal/repository"
)

type fakeSyncer struct {
	calls    []string
	exitCode int
	stderr   string
}

func (f *fakeSyncer) Sync(ctx context.Context, source, destination, linkDest string, filters []repository.FilterRule, extraArgs []string, logfile *repository.RsyncLogfileOptions) (int, string, error) {
	f.calls = append(f.calls, source+"=>"+destination+" link="+linkDest)
	return f.exitCode, f.stderr, nil
}

func TestBuildCreatesDestinationAndLatest(t *testing.T) {
	dest := t.TempDir()
	syncer := &fakeSyncer{}
	b := New(syncer, zerolog.Nop())

	params := repository.BackupParams{
		Sources:        []string{"/src/a/", "/src/b/"},
		DestinationDir: dest,
		FolderName:     "task_daily_2024-01-01T00-00-00",
		LinkRefFolder:  "task_daily_2023-12-31T00-00-00",
	}

	destPath, err := b.Build(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, params.FolderName), destPath)
	assert.DirExists(t, destPath)
	assert.Len(t, syncer.calls, 2)

	latest := filepath.Join(dest, "latest")
	target, err := os.Readlink(latest)
	require.NoError(t, err)
	assert.Equal(t, destPath, target)
}

func TestBuildFailsOnNonZeroExit(t *testing.T) {
	dest := t.TempDir()
	syncer := &fakeSyncer{exitCode: 23, stderr: "rsync error"}
	b := New(syncer, zerolog.Nop())

	params := repository.BackupParams{
		Sources:        []string{"/src/"},
		DestinationDir: dest,
		FolderName:     "task_daily_2024-01-01T00-00-00",
	}

	_, err := b.Build(context.Background(), params)
	require.Error(t, err)
	var syncErr *SyncFailedError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, 23, syncErr.ExitCode)
}

func TestBuildReplacesExistingLatest(t *testing.T) {
	dest := t.TempDir()
	syncer := &fakeSyncer{}
	b := New(syncer, zerolog.Nop())

	old := filepath.Join(dest, "task_daily_2023-12-31T00-00-00")
	require.NoError(t, os.MkdirAll(old, 0o755))
	require.NoError(t, os.Symlink(old, filepath.Join(dest, "latest")))

	params := repository.BackupParams{
		Sources:        []string{"/src/"},
		DestinationDir: dest,
		FolderName:     "task_daily_2024-01-01T00-00-00",
		LinkRefFolder:  "task_daily_2023-12-31T00-00-00",
	}

	destPath, err := b.Build(context.Background(), params)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dest, "latest"))
	require.NoError(t, err)
	assert.Equal(t, destPath, target)
}
