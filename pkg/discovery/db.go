// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package discovery

// DeviceDB is the kernel device database collaborator (spec.md §9, "Global
// state": "the kernel device database [is a] process-wide externalit[y];
// model [it] as [an] injected collaborator so tests can substitute fakes").
// SysfsDeviceDB is the real implementation; tests substitute a fake.
type DeviceDB interface {
	// ScanTagged returns every block device the database currently tags
	// with ID_FS_TYPE=stratis-pool (the primary scan, spec.md §4.4).
	ScanTagged() ([]DeviceEntry, error)
	// ScanAll returns every block device on the host, for the fallback
	// scan used when ScanTagged comes up empty.
	ScanAll() ([]DeviceEntry, error)
}
