package mount

import (
	"bufio"
	"os"
	"strings"
)

// Table reports which mountpoints the OS currently considers mounted,
// backing the manager's already-mounted idempotence check.
type Table interface {
	IsMounted(path string) (bool, error)
}

// ProcMountTable reads /proc/self/mounts, the standard Linux source of
// truth for the live mount table.
type ProcMountTable struct {
	// Path overrides the proc file read, for tests. Defaults to
	// /proc/self/mounts when empty.
	Path string
}

func (t ProcMountTable) path() string {
	if t.Path != "" {
		return t.Path
	}
	return "/proc/self/mounts"
}

// IsMounted reports whether the given path appears as a mountpoint column
// in the mount table.
func (t ProcMountTable) IsMounted(path string) (bool, error) {
	f, err := os.Open(t.path())
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if fields[1] == path {
			return true, nil
		}
	}
	return false, scanner.Err()
}
