// Package exitcode lists the stable process exit codes the daemon uses.
//
// The values come from the original rbackupd's constants module; keeping
// them stable lets operators (and tests) rely on a specific code meaning a
// specific failure without having to parse log text.
package exitcode

const (
	Success             = 0
	KeyboardInterrupt   = 1
	ConfigFileNotFound  = 2
	InvalidConfigFile   = 3
	IncludeFileNotFound = 4
	IncludeFileInvalid  = 5
	ExcludeFileNotFound = 6
	ExcludeFileInvalid  = 7
	InvalidDestination  = 8
	NoMountpointCreate  = 9
	RsyncFailed         = 10
)
