package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkoerber/rbackupd/internal/repository"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rbackupd.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadBasicTask(t *testing.T) {
	destDir := t.TempDir()
	path := writeConfig(t, `
[logging]
logfile_path = /var/log/rbackupd.log
loglevel = default

[rsync]
rsync_cmd = rsync

[task]
taskname = home
source = /home/user
destination = `+destDir+`
create_destination = false
overlapping = single
interval.daily = 0 3 * * *
keep.daily = 7
keep_age.daily = 30d
`)

	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, cfg.Tasks, 1)

	task := cfg.Tasks[0]
	assert.Equal(t, "home", task.TaskName)
	assert.Equal(t, []string{"/home/user"}, task.Sources)
	require.Len(t, task.Intervals, 1)
	assert.Equal(t, "daily", task.Intervals[0].Name)
	assert.Equal(t, 7, task.Intervals[0].KeepCount)
	assert.Equal(t, repository.Single, task.Overlapping)
}

func TestLoadMissingFileReturnsConfigFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path.conf", zerolog.Nop())
	require.Error(t, err)
	cfgErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 2, cfgErr.Code)
}

func TestLoadInvalidLoglevel(t *testing.T) {
	path := writeConfig(t, `
[logging]
logfile_path = /var/log/rbackupd.log
loglevel = bogus
`)
	_, err := Load(path, zerolog.Nop())
	require.Error(t, err)
	cfgErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 3, cfgErr.Code)
}

func TestLoadSkipsTaskWithMissingDestinationNoCreate(t *testing.T) {
	path := writeConfig(t, `
[logging]
logfile_path = /var/log/rbackupd.log
loglevel = default

[task]
taskname = gone
source = /home/user
destination = /does/not/exist/at/all
create_destination = false
interval.daily = 0 3 * * *
keep.daily = 7
`)
	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, cfg.Tasks)
}

func TestLoadDefaultsPropagateIntoTask(t *testing.T) {
	destDir := t.TempDir()
	path := writeConfig(t, `
[logging]
logfile_path = /var/log/rbackupd.log
loglevel = default

[default]
overlapping = hardlink
one_filesystem = true

[task]
taskname = home
source = /home/user
destination = `+destDir+`
interval.hourly = 0 * * * *
keep.hourly = 24
`)
	cfg, err := Load(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, cfg.Tasks, 1)
	assert.Equal(t, repository.Hardlink, cfg.Tasks[0].Overlapping)
	assert.Contains(t, cfg.Tasks[0].RsyncArgs, "-x")
}

func TestLoadMountRequiresROCreateWhenROConfigured(t *testing.T) {
	path := writeConfig(t, `
[logging]
logfile_path = /var/log/rbackupd.log
loglevel = default

[mount]
partition = UUID=abcd-1234
mountpoint = /mnt/rw
mountpoint_create = true
mountpoint_ro = /mnt/ro
`)
	_, err := Load(path, zerolog.Nop())
	require.Error(t, err)
	cfgErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, 9, cfgErr.Code)
}
