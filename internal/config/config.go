// Package config loads the INI configuration file into the daemon's
// Repository set, Mount list, and logging parameters. Keys under a
// `[default]` section propagate into any `[task]` section that omits
// them, for the optional task keys only (create_destination, overlapping,
// the filter lists, rsync_args, one_filesystem, ssh_args and the
// rsync_logfile keys). taskname, source, destination and the per-class
// interval.*, keep.* and keep_age.* keys are read from the `[task]`
// section alone; `[default]` values for them are ignored.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/ini.v1"

	"github.com/hkoerber/rbackupd/internal/exitcode"
	"github.com/hkoerber/rbackupd/internal/interval"
	"github.com/hkoerber/rbackupd/internal/logging"
	"github.com/hkoerber/rbackupd/internal/mount"
	"github.com/hkoerber/rbackupd/internal/repository"
)

// remoteShellCmd is the command substituted for the `--rsh` argument when
// ssh_args are configured, matching the original's hardcoded "ssh".
const remoteShellCmd = "ssh"

// Config is the fully resolved result of loading and validating one
// configuration file.
type Config struct {
	LogfilePath string
	LogLevel    zerolog.Level
	RsyncCmd    string
	Mounts      []mount.Mount
	Tasks       []repository.Repository
}

// Load reads and validates the configuration file at path. A task whose
// destination is missing without create_destination is logged and omitted
// from Tasks rather than aborting the whole load; everything else returns
// a *Error carrying the exit code the caller should terminate with.
func Load(path string, log zerolog.Logger) (*Config, error) {
	info, statErr := os.Stat(path)
	if statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, newError(exitcode.ConfigFileNotFound, "config file %q not found", path)
		}
		return nil, newError(exitcode.InvalidConfigFile, "cannot stat config file %q: %v", path, statErr)
	}
	if info.IsDir() {
		return nil, newError(exitcode.InvalidConfigFile, "config file %q is a directory", path)
	}

	file, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true, AllowNonUniqueSections: true}, path)
	if err != nil {
		return nil, newError(exitcode.InvalidConfigFile, "parsing config file %q: %v", path, err)
	}

	cfg := &Config{}

	loggingSection, err := file.GetSection("logging")
	if err != nil {
		return nil, newError(exitcode.InvalidConfigFile, "missing required [logging] section: %v", err)
	}
	cfg.LogfilePath = loggingSection.Key("logfile_path").String()
	loglevelName := loggingSection.Key("loglevel").MustString("default")
	level, ok := logging.Level(loglevelName)
	if !ok {
		return nil, newError(exitcode.InvalidConfigFile, "invalid value for key \"loglevel\": %q", loglevelName)
	}
	cfg.LogLevel = level

	rsyncSection := file.Section("rsync")
	cfg.RsyncCmd = rsyncSection.Key("rsync_cmd").MustString("rsync")

	mounts, err := loadMounts(file)
	if err != nil {
		return nil, err
	}
	cfg.Mounts = mounts

	defaultSection := file.Section("default")

	taskSections, _ := file.SectionsByName("task")
	for _, section := range taskSections {
		if len(section.Keys()) == 0 {
			continue
		}
		repo, err := loadTask(section, defaultSection, log)
		if err != nil {
			if _, skip := err.(*skippedTaskError); skip {
				continue
			}
			return nil, err
		}
		cfg.Tasks = append(cfg.Tasks, repo)
	}

	return cfg, nil
}

func loadMounts(file *ini.File) ([]mount.Mount, error) {
	sections, _ := file.SectionsByName("mount")
	var mounts []mount.Mount
	for _, section := range sections {
		if len(section.Keys()) == 0 {
			continue
		}

		partitionStr := section.Key("partition").String()
		spec, err := mount.ParsePartitionSpec(partitionStr)
		if err != nil {
			return nil, newError(exitcode.InvalidConfigFile, "[mount]: %v", err)
		}

		mp := section.Key("mountpoint").String()
		mpCreate := section.Key("mountpoint_create").MustBool(false)
		mpOptions := splitCommaAppend(section.Key("mountpoint_options").String(), "rw")

		roMp := section.Key("mountpoint_ro").String()
		roOptions := splitCommaAppend(section.Key("mountpoint_ro_options").String(), "ro")

		m := mount.Mount{
			Partition:         spec,
			Mountpoint:        mp,
			MountpointCreate:  mpCreate,
			MountpointOptions: mpOptions,
		}

		if roMp != "" {
			if !section.HasKey("mountpoint_ro_create") {
				return nil, newError(exitcode.NoMountpointCreate, "[mount]: key \"mountpoint_ro_create\" required when \"mountpoint_ro\" is set")
			}
			m.ROMountpoint = roMp
			m.ROMountpointCreate = section.Key("mountpoint_ro_create").MustBool(false)
			m.ROMountpointOptions = roOptions
		}

		mounts = append(mounts, m)
	}
	return mounts, nil
}

// loadTask resolves one [task] section, falling back to defaultSection
// per key where the task omits it. A returned *skippedTaskError signals
// "this task was skipped, keep going" rather than a fatal abort.
func loadTask(section, defaultSection *ini.Section, log zerolog.Logger) (repository.Repository, error) {
	taskName := section.Key("taskname").String()
	sources := section.Key("source").ValueWithShadows()
	destination := section.Key("destination").String()

	if taskName == "" || destination == "" || len(sources) == 0 {
		return repository.Repository{}, newError(exitcode.InvalidConfigFile, "[task]: \"taskname\", \"source\", and \"destination\" are required")
	}

	createDestination := resolveBool(section, defaultSection, "create_destination", false)
	if err := ensureDestination(destination, createDestination); err != nil {
		if skipped, ok := err.(*skippedTaskError); ok {
			log.Error().Str("task", taskName).Msg(skipped.Error())
		}
		return repository.Repository{}, err
	}

	overlappingName := resolveString(section, defaultSection, "overlapping", "single")
	overlapping, ok := repository.ParseOverlappingPolicy(overlappingName)
	if !ok {
		return repository.Repository{}, newError(exitcode.InvalidConfigFile,
			"[task %q]: invalid value for key \"overlapping\": %q", taskName, overlappingName)
	}

	intervals, err := loadIntervals(section)
	if err != nil {
		return repository.Repository{}, newError(exitcode.InvalidConfigFile, "[task %q]: %v", taskName, err)
	}

	filters, err := loadFilters(section, defaultSection)
	if err != nil {
		return repository.Repository{}, err
	}

	rsyncArgs := loadRsyncArgs(section, defaultSection)

	var logfile *repository.RsyncLogfileOptions
	if resolveBool(section, defaultSection, "rsync_logfile", false) {
		logfile = &repository.RsyncLogfileOptions{
			Name:   resolveString(section, defaultSection, "rsync_logfile_name", ""),
			Format: resolveString(section, defaultSection, "rsync_logfile_format", ""),
		}
	}

	return repository.Repository{
		TaskName:    taskName,
		Destination: destination,
		Sources:     sources,
		Intervals:   intervals,
		Filter:      filters,
		RsyncArgs:   rsyncArgs,
		Overlapping: overlapping,
		Logfile:     logfile,
	}, nil
}

// skippedTaskError marks a task-level problem that should not abort the
// whole config load: the caller logs it and omits the task, and the other
// tasks keep running.
type skippedTaskError struct{ msg string }

func (e *skippedTaskError) Error() string { return e.msg }

func ensureDestination(destination string, create bool) error {
	info, err := os.Stat(destination)
	if err != nil {
		if !os.IsNotExist(err) {
			return newError(exitcode.InvalidDestination, "stat destination %q: %v", destination, err)
		}
		if create {
			if mkErr := os.MkdirAll(destination, 0o755); mkErr != nil {
				return newError(exitcode.InvalidDestination, "creating destination %q: %v", destination, mkErr)
			}
			return nil
		}
		return &skippedTaskError{msg: "destination \"" + destination + "\" does not exist and create_destination is disabled, skipping task"}
	}
	if !info.IsDir() {
		return newError(exitcode.InvalidDestination, "destination %q exists and is not a directory", destination)
	}
	return nil
}

// loadIntervals collects the per-class interval.<class>, keep.<class>, and
// keep_age.<class> keys into ordered IntervalClass values. Class order
// follows first appearance among the interval.* keys; that order decides
// which class wins when several are due in one tick.
func loadIntervals(section *ini.Section) ([]repository.IntervalClass, error) {
	var order []string
	seen := map[string]bool{}
	schedules := map[string]string{}
	keeps := map[string]string{}
	keepAges := map[string]string{}

	for _, key := range section.Keys() {
		name := key.Name()
		switch {
		case strings.HasPrefix(name, "interval."):
			class := strings.TrimPrefix(name, "interval.")
			schedules[class] = key.String()
			if !seen[class] {
				seen[class] = true
				order = append(order, class)
			}
		case strings.HasPrefix(name, "keep_age."):
			keepAges[strings.TrimPrefix(name, "keep_age.")] = key.String()
		case strings.HasPrefix(name, "keep."):
			keeps[strings.TrimPrefix(name, "keep.")] = key.String()
		}
	}

	var classes []repository.IntervalClass
	for _, class := range order {
		sched, err := interval.ParseSchedule(schedules[class])
		if err != nil {
			return nil, err
		}
		keepCount := 0
		if s, ok := keeps[class]; ok {
			keepCount = parseIntOrZero(s)
		}
		var keepAge time.Duration
		if s, ok := keepAges[class]; ok && s != "" {
			d, err := interval.ToDuration(s)
			if err != nil {
				return nil, err
			}
			keepAge = d
		}
		classes = append(classes, repository.IntervalClass{
			Name:      class,
			Schedule:  sched,
			KeepCount: keepCount,
			KeepAge:   keepAge,
		})
	}
	return classes, nil
}

func loadFilters(section, defaultSection *ini.Section) ([]repository.FilterRule, error) {
	var rules []repository.FilterRule

	for _, p := range resolveList(section, defaultSection, "include_pattern") {
		rules = append(rules, repository.FilterRule{Kind: repository.Include, Pattern: p})
	}
	for _, p := range resolveList(section, defaultSection, "exclude_pattern") {
		rules = append(rules, repository.FilterRule{Kind: repository.Exclude, Pattern: p})
	}
	for _, f := range resolveList(section, defaultSection, "include_file") {
		if err := validateFilterFile(f, exitcode.IncludeFileNotFound, exitcode.IncludeFileInvalid); err != nil {
			return nil, err
		}
		rules = append(rules, repository.FilterRule{Kind: repository.IncludeFile, Pattern: f})
	}
	for _, f := range resolveList(section, defaultSection, "exclude_file") {
		if err := validateFilterFile(f, exitcode.ExcludeFileNotFound, exitcode.ExcludeFileInvalid); err != nil {
			return nil, err
		}
		rules = append(rules, repository.FilterRule{Kind: repository.ExcludeFile, Pattern: f})
	}
	for _, p := range resolveList(section, defaultSection, "filter_pattern") {
		rules = append(rules, repository.FilterRule{Kind: repository.Filter, Pattern: p})
	}

	return rules, nil
}

func validateFilterFile(path string, notFoundCode, invalidCode int) *Error {
	info, err := os.Stat(path)
	if err != nil {
		return newError(notFoundCode, "filter file %q not found", path)
	}
	if !info.Mode().IsRegular() {
		return newError(invalidCode, "filter file %q is not a regular file", path)
	}
	return nil
}

func loadRsyncArgs(section, defaultSection *ini.Section) []string {
	var args []string
	for _, raw := range resolveList(section, defaultSection, "rsync_args") {
		args = append(args, strings.Fields(raw)...)
	}

	if resolveBool(section, defaultSection, "one_filesystem", false) {
		args = append(args, "-x")
	}

	sshArgs := resolveList(section, defaultSection, "ssh_args")
	if len(sshArgs) > 0 {
		args = append(args, "--rsh", remoteShellCmd+" "+strings.Join(sshArgs, " "))
	}

	return args
}

func splitCommaAppend(value, extra string) []string {
	var out []string
	if value != "" {
		out = strings.Split(value, ",")
	}
	out = append(out, extra)
	return out
}

func resolveString(section, defaultSection *ini.Section, key, fallback string) string {
	if section.HasKey(key) {
		return section.Key(key).String()
	}
	if defaultSection != nil && defaultSection.HasKey(key) {
		return defaultSection.Key(key).String()
	}
	return fallback
}

func resolveBool(section, defaultSection *ini.Section, key string, fallback bool) bool {
	if section.HasKey(key) {
		return section.Key(key).MustBool(fallback)
	}
	if defaultSection != nil && defaultSection.HasKey(key) {
		return defaultSection.Key(key).MustBool(fallback)
	}
	return fallback
}

func resolveList(section, defaultSection *ini.Section, key string) []string {
	if section.HasKey(key) {
		return section.Key(key).ValueWithShadows()
	}
	if defaultSection != nil && defaultSection.HasKey(key) {
		return defaultSection.Key(key).ValueWithShadows()
	}
	return nil
}

func parseIntOrZero(s string) int {
	n := 0
	neg := false
	for i, r := range s {
		if i == 0 && r == '-' {
			neg = true
			continue
		}
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	if neg {
		n = -n
	}
	return n
}
