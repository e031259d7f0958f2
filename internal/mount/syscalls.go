package mount

import "golang.org/x/sys/unix"

// Syscalls abstracts the mount(2) syscall so the manager's
// orchestration logic can be tested without root privileges or a real
// block device.
type Syscalls interface {
	Mount(source, target, fstype string, flags uintptr, data string) error
}

// UnixSyscalls is the real implementation, backed by golang.org/x/sys/unix.
type UnixSyscalls struct{}

func (UnixSyscalls) Mount(source, target, fstype string, flags uintptr, data string) error {
	return unix.Mount(source, target, fstype, flags, data)
}

// Flag aliases for the remount/bind-mount combinations the manager uses.
const (
	FlagBind     = unix.MS_BIND
	FlagRDOnly   = unix.MS_RDONLY
	FlagRemount  = unix.MS_REMOUNT
	FlagRelatime = unix.MS_RELATIME
	FlagNoExec   = unix.MS_NOEXEC
	FlagNoSuid   = unix.MS_NOSUID
)
