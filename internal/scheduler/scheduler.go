// Package scheduler runs the single-threaded cooperative per-repository
// refresh/schedule/build/expire cycle, ticking on minute boundaries.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hkoerber/rbackupd/internal/builder"
	"github.com/hkoerber/rbackupd/internal/catalog"
	"github.com/hkoerber/rbackupd/internal/expiration"
	"github.com/hkoerber/rbackupd/internal/interval"
	"github.com/hkoerber/rbackupd/internal/overlap"
	"github.com/hkoerber/rbackupd/internal/repository"
	"github.com/hkoerber/rbackupd/internal/retention"
)

// FatalSyncError wraps any error returned by builder.Build (a
// builder.SyncFailedError when the sync tool exits non-zero) to make the
// contract explicit: a failed snapshot build aborts the whole daemon, not
// just the repository cycle that hit it.
type FatalSyncError struct {
	TaskName string
	Err      error
}

func (e *FatalSyncError) Error() string {
	return fmt.Sprintf("task %q: %v", e.TaskName, e.Err)
}

func (e *FatalSyncError) Unwrap() error { return e.Err }

// Loop drives the scheduling state machine across every configured
// Repository.
type Loop struct {
	Repos   []repository.Repository
	Builder *builder.Builder
	Expirer *expiration.Executor
	Log     zerolog.Logger
	// Clock is overridable so tests can drive Tick against a fixed instant
	// instead of real wall-clock time.
	Clock func() time.Time
}

// NewLoop constructs a Loop with real wall-clock time.
func NewLoop(repos []repository.Repository, b *builder.Builder, x *expiration.Executor, log zerolog.Logger) *Loop {
	return &Loop{
		Repos:   repos,
		Builder: b,
		Expirer: x,
		Log:     log,
		Clock:   time.Now,
	}
}

// Run executes the IDLE→tick→COMPUTE_SLEEP→SLEEP state machine until ctx
// is cancelled, which maps to the keyboard-interrupt exit path at the
// caller. A fatal sync failure aborts the whole loop and is returned.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := l.Tick(ctx, l.Clock()); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.sleepDuration(l.Clock())):
		}
	}
}

// sleepDuration computes the wait until the next minute boundary: the
// seconds remaining in the hour's final minute, otherwise the time
// remaining to the next minute plus a 1-second guard.
func (l *Loop) sleepDuration(now time.Time) time.Duration {
	if now.Minute() == 59 {
		return time.Duration(60-now.Second()) * time.Second
	}
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now) + time.Second
}

// Tick runs one full REFRESH→SCHEDULE→BUILD→EXPIRE round across every
// repository, in declaration order.
func (l *Loop) Tick(ctx context.Context, now time.Time) error {
	for _, repo := range l.Repos {
		if err := l.tickOne(ctx, repo, now); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) tickOne(ctx context.Context, repo repository.Repository, now time.Time) error {
	log := l.Log.With().Str("task", repo.TaskName).Logger()

	// REFRESH
	cat, err := catalog.Scan(repo.Destination, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to scan destination, skipping this tick")
		return nil
	}

	// SCHEDULE
	var due []string
	for _, class := range repo.Intervals {
		existing := timestampsForClass(cat, repo.TaskName, class.Name)
		if interval.IsDue(class.Schedule, now, existing) {
			due = append(due, class.Name)
		}
	}

	// BUILD
	if len(due) == 0 {
		log.Info().Msg("no backup necessary")
	} else if err := l.build(ctx, repo, cat, due, now, log); err != nil {
		return err
	}

	// EXPIRE
	cat, err = catalog.Scan(repo.Destination, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to rescan destination before expiration")
		return nil
	}
	expired := retention.Expired(repo, cat, now)
	if len(expired) == 0 {
		log.Info().Msg("no expired backups")
	} else {
		for _, entry := range expired {
			log.Info().Str("snapshot", entry.Name()).Msg("expiring snapshot")
		}
		l.Expirer.ExpireAll(cat, expired)
		if err := l.Expirer.RepairLatest(repo.Destination); err != nil {
			log.Error().Err(err).Msg("failed to repair latest symlink after expiration")
		}
	}

	return nil
}

func timestampsForClass(cat *catalog.Catalog, taskName, class string) []time.Time {
	entries := cat.ListTask(taskName, class)
	out := make([]time.Time, len(entries))
	for i, e := range entries {
		out[i] = e.Timestamp
	}
	return out
}

func (l *Loop) build(ctx context.Context, repo repository.Repository, cat *catalog.Catalog, due []string, now time.Time, log zerolog.Logger) error {
	ts := now.Format(repository.TimestampFormat)

	var linkRef string
	if latest, ok := cat.LatestPhysical(); ok {
		linkRef = latest.Name()
	}

	common := repository.BackupParams{
		Sources:        repo.Sources,
		DestinationDir: repo.Destination,
		Filter:         repo.Filter,
		RsyncArgs:      repo.RsyncArgs,
		Logfile:        repo.Logfile,
	}

	plan, err := overlap.Resolve(repo.Overlapping, due, repo.TaskName, ts, linkRef, common)
	if err != nil {
		return fmt.Errorf("resolving overlap for task %q: %w", repo.TaskName, err)
	}

	log.Info().Str("snapshot", plan.Physical.FolderName).Msg("creating backup")
	destPath, err := l.Builder.Build(ctx, plan.Physical)
	if err != nil {
		return &FatalSyncError{TaskName: repo.TaskName, Err: err}
	}
	log.Info().Str("snapshot", plan.Physical.FolderName).Msg("backup finished successfully")

	if repo.Overlapping != repository.Single && len(plan.Aliases) > 0 {
		if err := overlap.Materialize(ctx, repo.Overlapping, repo.Destination, destPath, plan); err != nil {
			return fmt.Errorf("materializing overlap siblings for task %q: %w", repo.TaskName, err)
		}
	}

	return nil
}
