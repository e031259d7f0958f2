// Command rbackupd runs the snapshot backup scheduler as a long-lived
// daemon.
//
// It loads an INI configuration file describing one or more backup
// tasks, establishes any configured source-partition mounts, then drives
// the scheduler loop until a keyboard interrupt or terminating signal
// arrives. There is no single-instance lock: rbackupd is meant to run as
// a system service, one process per configuration file, under whatever
// supervisor the host uses to guarantee that.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/hkoerber/rbackupd/internal/builder"
	"github.com/hkoerber/rbackupd/internal/config"
	"github.com/hkoerber/rbackupd/internal/exitcode"
	"github.com/hkoerber/rbackupd/internal/expiration"
	"github.com/hkoerber/rbackupd/internal/logging"
	"github.com/hkoerber/rbackupd/internal/mount"
	"github.com/hkoerber/rbackupd/internal/rsync"
	"github.com/hkoerber/rbackupd/internal/scheduler"
)

func main() {
	configPath := flag.String("config", "/etc/rbackupd/rbackupd.conf", "path to the configuration file")
	flag.Parse()

	os.Exit(run(*configPath))
}

// run performs the full startup sequence and blocks in the scheduler loop.
// Its return value is the process exit code; main only needs to pass it
// to os.Exit so that deferred cleanup still happens on every path.
func run(configPath string) int {
	// Log to a bounded memory buffer until the configured logfile_path is
	// known, then flush into the rotating file exactly once.
	sink := logging.NewBuffering(4096)
	log := logging.New(sink, zerolog.InfoLevel)

	cfg, err := config.Load(configPath, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		var cfgErr *config.Error
		if errors.As(err, &cfgErr) {
			return cfgErr.Code
		}
		return exitcode.InvalidConfigFile
	}

	if cfg.LogfilePath != "" {
		_ = os.MkdirAll(filepath.Dir(cfg.LogfilePath), 0o755)
		sink.ToPersistent(logging.NewFileWriter(cfg.LogfilePath))
	}
	log = logging.New(sink, cfg.LogLevel)

	mgr := mount.NewManager(log)
	if err := mgr.Establish(cfg.Mounts); err != nil {
		log.Error().Err(err).Msg("failed to establish configured mounts")
		if errors.Is(err, mount.ErrMountpointMissing) {
			return exitcode.NoMountpointCreate
		}
		return exitcode.InvalidDestination
	}

	syncer := rsync.Syncer{RsyncCmd: cfg.RsyncCmd}
	loop := scheduler.NewLoop(cfg.Tasks, builder.New(syncer, log), expiration.New(log), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received interrupt, finishing current cycle and exiting")
		cancel()
	}()

	if err := loop.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("keyboard interrupt")
			return exitcode.KeyboardInterrupt
		}
		var syncErr *scheduler.FatalSyncError
		if errors.As(err, &syncErr) {
			log.Error().Err(err).Msg("sync tool failed, aborting")
			return exitcode.RsyncFailed
		}
		log.Error().Err(err).Msg("scheduler loop exited with an unexpected error")
		return exitcode.InvalidConfigFile
	}

	return exitcode.Success
}

