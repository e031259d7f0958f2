package mount

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMountpointMissing marks the fatal "mountpoint does not exist and
// auto-create is disabled" case, which carries its own process exit code.
var ErrMountpointMissing = errors.New("mountpoint does not exist and mountpoint_create is disabled")

// Mount is one configured `[mount]` section: a partition and the
// mountpoint(s) it should be made available at before scheduling begins.
type Mount struct {
	Partition PartitionSpec

	Mountpoint        string
	MountpointCreate  bool
	MountpointOptions []string

	// ROMountpoint is empty when no read-only companion is configured, in
	// which case Establish performs a single mount directly at Mountpoint.
	ROMountpoint        string
	ROMountpointCreate  bool
	ROMountpointOptions []string
}

// HasReadOnlyCompanion reports whether this Mount uses the two-stage
// ro-then-bind protocol.
func (m Mount) HasReadOnlyCompanion() bool { return m.ROMountpoint != "" }

// Manager establishes every configured Mount at startup. It is not used
// again once the scheduler loop begins: the mount table is mutated only
// here.
type Manager struct {
	Syscalls Syscalls
	Table    Table
	Log      zerolog.Logger
}

// NewManager builds a Manager wired to the real OS syscalls and mount
// table.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		Syscalls: UnixSyscalls{},
		Table:    ProcMountTable{},
		Log:      log,
	}
}

// Establish walks every configured Mount and makes it available, in
// declared order. The first fatal error aborts startup; main maps it to
// InvalidDestination or NoMountpointCreate depending on cause.
func (m *Manager) Establish(mounts []Mount) error {
	for _, mnt := range mounts {
		if err := m.establishOne(mnt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) establishOne(mnt Mount) error {
	if mnt.HasReadOnlyCompanion() {
		if err := m.ensureMountpoint(mnt.ROMountpoint, mnt.ROMountpointCreate); err != nil {
			return err
		}
		if already, err := m.alreadyMounted(mnt.ROMountpoint); err != nil {
			return err
		} else if already {
			m.Log.Warn().Str("mountpoint", mnt.ROMountpoint).Msg("mountpoint already in use, skipping")
		} else {
			data := strings.Join(mnt.ROMountpointOptions, ",")
			if err := m.Syscalls.Mount(mnt.Partition.DevicePath(), mnt.ROMountpoint, "", FlagRDOnly, data); err != nil {
				return fmt.Errorf("mounting %s read-only at %s: %w", mnt.Partition, mnt.ROMountpoint, err)
			}
		}

		if err := m.ensureMountpoint(mnt.Mountpoint, mnt.MountpointCreate); err != nil {
			return err
		}
		if already, err := m.alreadyMounted(mnt.Mountpoint); err != nil {
			return err
		} else if already {
			m.Log.Warn().Str("mountpoint", mnt.Mountpoint).Msg("mountpoint already in use, skipping")
			return nil
		}

		if err := m.Syscalls.Mount(mnt.ROMountpoint, mnt.Mountpoint, "", FlagBind|FlagRDOnly, ""); err != nil {
			return fmt.Errorf("bind-mounting %s onto %s: %w", mnt.ROMountpoint, mnt.Mountpoint, err)
		}

		data := strings.Join(mnt.MountpointOptions, ",")
		remountFlags := uintptr(FlagRemount | FlagRelatime | FlagNoExec | FlagNoSuid)
		if err := m.Syscalls.Mount("", mnt.Mountpoint, "", remountFlags, data); err != nil {
			return fmt.Errorf("remounting %s rw: %w", mnt.Mountpoint, err)
		}
		return nil
	}

	if err := m.ensureMountpoint(mnt.Mountpoint, mnt.MountpointCreate); err != nil {
		return err
	}
	if already, err := m.alreadyMounted(mnt.Mountpoint); err != nil {
		return err
	} else if already {
		m.Log.Warn().Str("mountpoint", mnt.Mountpoint).Msg("mountpoint already in use, skipping")
		return nil
	}

	data := strings.Join(mnt.MountpointOptions, ",")
	if err := m.Syscalls.Mount(mnt.Partition.DevicePath(), mnt.Mountpoint, "", 0, data); err != nil {
		return fmt.Errorf("mounting %s at %s: %w", mnt.Partition, mnt.Mountpoint, err)
	}
	return nil
}

func (m *Manager) alreadyMounted(path string) (bool, error) {
	mounted, err := m.Table.IsMounted(path)
	if err != nil {
		return false, fmt.Errorf("reading mount table: %w", err)
	}
	return mounted, nil
}

func (m *Manager) ensureMountpoint(path string, create bool) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("mountpoint %s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat mountpoint %s: %w", path, err)
	}
	if !create {
		return fmt.Errorf("mountpoint %s: %w", path, ErrMountpointMissing)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("creating mountpoint %s: %w", path, err)
	}
	return nil
}
