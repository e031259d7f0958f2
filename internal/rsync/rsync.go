// Package rsync drives the external rsync binary that performs the actual
// file synchronization. Flag construction is pure and unit-testable; Run
// shells out.
package rsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/hkoerber/rbackupd/internal/repository"
)

// BuildArgs renders the full rsync argument list for one source: archive
// semantics, link-dest, filter rules (in declaration order), any
// additional configured rsync args (already carrying -x/--rsh if those
// were configured), rsync's own logfile flags, then source and
// destination paths.
func BuildArgs(source, destination, linkDest string, filters []repository.FilterRule, extraArgs []string, logfile *repository.RsyncLogfileOptions) []string {
	args := []string{"--archive"}

	if linkDest != "" {
		args = append(args, "--link-dest="+linkDest)
	}

	for _, f := range filters {
		args = append(args, f.Flags()...)
	}

	args = append(args, extraArgs...)

	if logfile != nil {
		if logfile.Name != "" {
			args = append(args, "--log-file="+logfile.Name)
		}
		if logfile.Format != "" {
			args = append(args, "--log-file-format="+logfile.Format)
		}
	}

	args = append(args, source, destination)
	return args
}

// Result carries the outcome of one rsync invocation.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Run invokes the configured rsync binary for one source/destination pair
// and blocks until it exits.
func Run(ctx context.Context, rsyncCmd, source, destination, linkDest string, filters []repository.FilterRule, extraArgs []string, logfile *repository.RsyncLogfileOptions) (Result, error) {
	args := BuildArgs(source, destination, linkDest, filters, extraArgs, logfile)

	cmd := exec.CommandContext(ctx, rsyncCmd, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("failed to run %s: %w", rsyncCmd, err)
}

// Syncer invokes the configured rsync binary and satisfies
// builder.Syncer, the seam the builder depends on.
type Syncer struct {
	RsyncCmd string
}

// Sync runs rsync for one source/destination pair.
func (s Syncer) Sync(ctx context.Context, source, destination, linkDest string, filters []repository.FilterRule, extraArgs []string, logfile *repository.RsyncLogfileOptions) (int, string, error) {
	cmd := s.RsyncCmd
	if cmd == "" {
		cmd = "rsync"
	}
	result, err := Run(ctx, cmd, source, destination, linkDest, filters, extraArgs, logfile)
	if err != nil {
		return 0, "", err
	}
	return result.ExitCode, result.Stderr, nil
}
