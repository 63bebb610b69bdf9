// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package backstore

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/segment"
)

// blockDeviceSectors returns the capacity of a block device (or regular
// file, for loopback-backed tests) in whole sectors, using BLKGETSIZE64
// where available and falling back to stat for ordinary files.
func blockDeviceSectors(path string) (segment.Sector, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an already-validated member device path
	if err != nil {
		return 0, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	defer func() { _ = f.Close() }()

	var sizeBytes int64
	// #nosec G103 -- unsafe.Pointer required for the ioctl syscall
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&sizeBytes)))
	if errno == 0 {
		return segment.Sector(uint64(sizeBytes) / devheaderSectorSize), nil
	}

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", ErrIoError, path, err)
	}
	return segment.Sector(uint64(stat.Size()) / devheaderSectorSize), nil
}

const devheaderSectorSize = 512

// flockExclusive acquires an exclusive advisory lock on f, blocking until it
// is available,
// mirroring the teacher's AcquireFileLock convention of serializing
// multi-step header writes against concurrent access to the same device.
func flockExclusive(f *os.File) (func(), error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return nil, fmt.Errorf("%w: flock %s: %v", ErrIoError, f.Name(), err)
	}
	return func() { _ = unix.Flock(int(f.Fd()), unix.LOCK_UN) }, nil
}

// devnoOf stats path and returns its kernel (major, minor) device number.
func devnoOf(path string) (ids.KernelDevNo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return ids.KernelDevNo{}, fmt.Errorf("%w: stat %s: %v", ErrIoError, path, err)
	}
	return ids.KernelDevNo{
		Major: uint32(unix.Major(uint64(st.Rdev))), //nolint:unconvert
		Minor: uint32(unix.Minor(uint64(st.Rdev))), //nolint:unconvert
	}, nil
}
