//go:build linux

package resource

import "golang.org/x/sys/unix"

func systemMemory() (used, total uint64) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total = uint64(info.Totalram) * unit
	free := uint64(info.Freeram) * unit
	if free > total {
		return 0, total
	}
	return total - free, total
}
