// Package builder materializes one snapshot directory via the external
// sync tool and swaps the `latest` symlink atomically on success.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/hkoerber/rbackupd/internal/repository"
)

// Syncer runs one sync-tool invocation for a single source against a
// destination, optionally hard-linking unchanged content from linkDest.
// Builder depends on this interface rather than the rsync package
// directly so tests can substitute a fake without invoking a real
// subprocess.
type Syncer interface {
	Sync(ctx context.Context, source, destination, linkDest string, filters []repository.FilterRule, extraArgs []string, logfile *repository.RsyncLogfileOptions) (exitCode int, stderr string, err error)
}

// Builder materializes BackupParams into a snapshot directory.
type Builder struct {
	Syncer Syncer
	Log    zerolog.Logger
}

// New constructs a Builder.
func New(syncer Syncer, log zerolog.Logger) *Builder {
	return &Builder{Syncer: syncer, Log: log}
}

// SyncFailedError is returned when the external sync tool exits non-zero.
// No partial cleanup happens; the half-built directory stays on disk for
// operator inspection. The scheduler wraps it in a FatalSyncError that
// aborts the loop, and main maps that to exitcode.RsyncFailed.
type SyncFailedError struct {
	Source   string
	ExitCode int
	Stderr   string
}

func (e *SyncFailedError) Error() string {
	return fmt.Sprintf("sync of %s exited %d: %s", e.Source, e.ExitCode, e.Stderr)
}

// Build syncs every source into DestinationDir/FolderName, then
// atomically replaces the `latest` symlink. It returns the absolute
// destination path on success.
func (b *Builder) Build(ctx context.Context, params repository.BackupParams) (string, error) {
	destPath := filepath.Join(params.DestinationDir, params.FolderName)
	if err := os.MkdirAll(destPath, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory %s: %w", destPath, err)
	}

	var linkDest string
	if params.LinkRefFolder != "" {
		linkDest = filepath.Join(params.DestinationDir, params.LinkRefFolder)
	}

	for _, source := range params.Sources {
		exitCode, stderr, err := b.Syncer.Sync(ctx, source, destPath, linkDest, params.Filter, params.RsyncArgs, params.Logfile)
		if err != nil {
			return "", fmt.Errorf("invoking sync tool for %s: %w", source, err)
		}
		if exitCode != 0 {
			b.Log.Error().Str("source", source).Int("exit_code", exitCode).Str("stderr", stderr).Msg("sync tool failed")
			return "", &SyncFailedError{Source: source, ExitCode: exitCode, Stderr: stderr}
		}
	}

	if err := b.updateLatest(params.DestinationDir, destPath); err != nil {
		return "", err
	}

	return destPath, nil
}

// updateLatest atomically replaces the `latest` symlink so it always
// resolves to the most recently completed physical snapshot.
func (b *Builder) updateLatest(destinationDir, destPath string) error {
	latest := filepath.Join(destinationDir, "latest")
	tmp := latest + ".tmp"

	_ = os.Remove(tmp)
	if err := os.Symlink(destPath, tmp); err != nil {
		return fmt.Errorf("creating latest symlink: %w", err)
	}
	if err := os.Rename(tmp, latest); err != nil {
		return fmt.Errorf("replacing latest symlink: %w", err)
	}
	return nil
}
