// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package segment

import (
	"fmt"

	"github.com/anatol/devmapper.go"
)

// toLinearTables converts a target table into the devmapper.go library's
// per-line representation: one devmapper.LinearTable per TargetLine. Lengths
// and offsets are expressed in bytes, matching the convention devmapper.go
// uses for its other target types (e.g. CryptTable.Length/BackendOffset).
func toLinearTables(table []TargetLine, devnoToPath func(devnoMajor, devnoMinor uint32) (string, error)) ([]devmapper.Table, error) {
	tables := make([]devmapper.Table, 0, len(table))
	for _, t := range table {
		backendPath, err := devnoToPath(t.BackingDevice.Major, t.BackingDevice.Minor)
		if err != nil {
			return nil, fmt.Errorf("segment: resolve backing device %s: %w", t.BackingDevice, err)
		}
		tables = append(tables, devmapper.LinearTable{
			Start:         t.LogicalStart.Bytes(),
			Length:        t.Length.Bytes(),
			BackendDevice: backendPath,
			BackendOffset: t.PhysicalStart.Bytes(),
		})
	}
	return tables, nil
}

// Realize stands up a linear virtual device in the kernel's device-mapper
// for the given target table, under the given device-mapper name and UUID.
// devnoToPath resolves a member device's kernel device number to the
// devnode path devmapper.go's table builder expects.
func Realize(name, uuid string, table []TargetLine, devnoToPath func(major, minor uint32) (string, error)) error {
	tables, err := toLinearTables(table, devnoToPath)
	if err != nil {
		return err
	}
	if err := devmapper.CreateAndLoad(name, uuid, 0, tables...); err != nil {
		return fmt.Errorf("segment: create device-mapper target %q: %w", name, err)
	}
	return nil
}

// Teardown removes a previously realized linear device-mapper device.
func Teardown(name string) error {
	if err := devmapper.Remove(name); err != nil {
		return fmt.Errorf("segment: remove device-mapper target %q: %w", name, err)
	}
	return nil
}
