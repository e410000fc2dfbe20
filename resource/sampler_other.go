//go:build !linux

package resource

func systemMemory() (used, total uint64) {
	return 0, 0
}
