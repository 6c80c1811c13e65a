//go:build !linux

package gemmbatch

// systemMemory returns total system memory in bytes. Platforms without a
// sysinfo syscall report a fixed default; the value only feeds the device
// description, not allocation decisions.
func systemMemory() uint64 {
	return defaultSystemMemory
}
