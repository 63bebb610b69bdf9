// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package escrow implements the network-escrow-bound layer of the
// encryption mediator (spec.md §4.5): a memory-private scratch filesystem
// for key material, and the external escrow-tool invocation contract from
// spec.md §6.
package escrow

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// MemoryPrivateFilesystem is a tmpfs-backed scratch directory, mounted for
// the lifetime of a single bind call, so key material never lands on an
// on-disk filesystem. tmpfs pages are not locked in memory and can be
// written out to swap. It must be released on every exit path; callers
// defer Release immediately after a successful New.
type MemoryPrivateFilesystem struct {
	dir     string
	mounted bool
}

// NewMemoryPrivateFilesystem creates and mounts a private tmpfs directory.
func NewMemoryPrivateFilesystem() (*MemoryPrivateFilesystem, error) {
	dir, err := os.MkdirTemp("", "blockdevmgr-keyfs-*")
	if err != nil {
		return nil, fmt.Errorf("escrow: create scratch dir: %w", err)
	}
	if err := unix.Mount("tmpfs", dir, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=1m,mode=0700"); err != nil {
		_ = os.Remove(dir)
		return nil, fmt.Errorf("escrow: mount private tmpfs: %w", err)
	}
	return &MemoryPrivateFilesystem{dir: dir, mounted: true}, nil
}

// WriteKeyMaterial writes key material into the private filesystem, scoped
// to the current bind operation, and returns its path.
func (m *MemoryPrivateFilesystem) WriteKeyMaterial(name string, material []byte) (string, error) {
	path := filepath.Join(m.dir, name)
	if err := os.WriteFile(path, material, 0o600); err != nil {
		return "", fmt.Errorf("escrow: write key material: %w", err)
	}
	return path, nil
}

// Release unmounts and removes the private filesystem, discarding any key
// material it held; the file contents are not overwritten first. Safe to
// call more than once.
func (m *MemoryPrivateFilesystem) Release() error {
	if !m.mounted {
		return nil
	}
	m.mounted = false
	if err := unix.Unmount(m.dir, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("escrow: unmount private tmpfs: %w", err)
	}
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("escrow: remove scratch dir: %w", err)
	}
	return nil
}
