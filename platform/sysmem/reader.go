// Package sysmem reads physical and resident memory for the current process.
package sysmem

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/c360/resourcekit/errors"
)

// Source names accepted by Detect.
const (
	SourceAuto     = "auto"
	SourceProcfs   = "procfs"
	SourceGopsutil = "gopsutil"
	SourceRuntime  = "runtime"
)

// Reader reports installed physical memory and the process's resident memory, in bytes.
type Reader interface {
	PhysicalMemory() (uint64, error)
	ResidentMemory() (uint64, error)
}

// ProcfsReader reads /proc/meminfo and /proc/self/stat. Linux only.
type ProcfsReader struct {
	fs procfs.FS
}

// NewProcfsReader opens the proc filesystem at mountPoint, or the default mount when empty.
func NewProcfsReader(mountPoint string) (*ProcfsReader, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrMemoryUnavailable, err), "ProcfsReader", "New", "open procfs")
	}
	return &ProcfsReader{fs: fs}, nil
}

// PhysicalMemory returns MemTotal from /proc/meminfo.
func (r *ProcfsReader) PhysicalMemory() (uint64, error) {
	info, err := r.fs.Meminfo()
	if err != nil {
		return 0, errors.WrapTransient(err, "ProcfsReader", "PhysicalMemory", "read meminfo")
	}
	if info.MemTotal == nil {
		return 0, errors.WrapTransient(errors.ErrMemoryUnavailable, "ProcfsReader", "PhysicalMemory", "MemTotal missing")
	}
	// meminfo reports kB
	return *info.MemTotal * 1024, nil
}

// ResidentMemory returns the RSS of the current process.
func (r *ProcfsReader) ResidentMemory() (uint64, error) {
	proc, err := r.fs.Self()
	if err != nil {
		return 0, errors.WrapTransient(err, "ProcfsReader", "ResidentMemory", "open self")
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, errors.WrapTransient(err, "ProcfsReader", "ResidentMemory", "read stat")
	}
	return uint64(stat.ResidentMemory()), nil
}

// GopsutilReader uses gopsutil and works on every platform gopsutil supports.
type GopsutilReader struct {
	proc *process.Process
}

// NewGopsutilReader creates a reader for the current process.
func NewGopsutilReader() (*GopsutilReader, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrMemoryUnavailable, err), "GopsutilReader", "New", "open process")
	}
	return &GopsutilReader{proc: proc}, nil
}

// PhysicalMemory returns total virtual memory as reported by the OS.
func (r *GopsutilReader) PhysicalMemory() (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(context.Background())
	if err != nil {
		return 0, errors.WrapTransient(err, "GopsutilReader", "PhysicalMemory", "read virtual memory")
	}
	return vm.Total, nil
}

// ResidentMemory returns the RSS of the current process.
func (r *GopsutilReader) ResidentMemory() (uint64, error) {
	info, err := r.proc.MemoryInfoWithContext(context.Background())
	if err != nil {
		return 0, errors.WrapTransient(err, "GopsutilReader", "ResidentMemory", "read memory info")
	}
	return info.RSS, nil
}

// RuntimeReader reports the Go runtime's Sys bytes as resident memory.
// It undercounts cgo and mmap'd memory and is only a last resort.
type RuntimeReader struct {
	// Physical is returned by PhysicalMemory. Zero means unknown.
	Physical uint64
}

// PhysicalMemory returns the configured physical size.
func (r RuntimeReader) PhysicalMemory() (uint64, error) {
	if r.Physical == 0 {
		return 0, errors.WrapTransient(errors.ErrMemoryUnavailable, "RuntimeReader", "PhysicalMemory", "physical memory unknown")
	}
	return r.Physical, nil
}

// ResidentMemory returns runtime.MemStats.Sys.
func (r RuntimeReader) ResidentMemory() (uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, nil
}

// Detect builds a Reader for source. With SourceAuto it tries procfs, then
// gopsutil, then the runtime reader, returning the first that can read both values.
func Detect(source string) (Reader, error) {
	switch source {
	case SourceProcfs:
		return NewProcfsReader("")
	case SourceGopsutil:
		return NewGopsutilReader()
	case SourceRuntime:
		return runtimeFallback(), nil
	case "", SourceAuto:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: unknown memory source %q", errors.ErrInvalidConfig, source), "sysmem", "Detect", "select reader")
	}

	if runtime.GOOS == "linux" {
		if r, err := NewProcfsReader(""); err == nil && usable(r) {
			return r, nil
		}
	}
	if r, err := NewGopsutilReader(); err == nil && usable(r) {
		return r, nil
	}
	return runtimeFallback(), nil
}

func usable(r Reader) bool {
	if _, err := r.PhysicalMemory(); err != nil {
		return false
	}
	_, err := r.ResidentMemory()
	return err == nil
}

// runtimeFallback still asks gopsutil for the physical size when it can.
func runtimeFallback() RuntimeReader {
	var physical uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		physical = vm.Total
	}
	return RuntimeReader{Physical: physical}
}
