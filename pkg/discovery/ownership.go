// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package discovery implements the device identification / scan pipeline
// from spec.md §4.4: a primary udev-property-driven scan for devices tagged
// with the pool filesystem type, and a fallback brute scan of every block
// device when the primary scan comes up empty.
package discovery

import "github.com/jeremyhahn/go-blockdevmgr/pkg/ids"

// Ownership is the per-device verdict the fallback scan's decision table
// (spec.md §4.4) produces from kernel device database properties.
type Ownership int

const (
	// Foreign devices are claimed by something other than this pool
	// manager (another filesystem, LVM, RAID, multipath) and must never
	// be touched.
	Foreign Ownership = iota
	// Unowned devices carry no filesystem or other claim signal at all.
	Unowned
	// Stratis devices are tagged with the pool filesystem type.
	Stratis
)

// poolFSType is the ID_FS_TYPE value the primary scan searches for and the
// fallback scan's decision table recognizes.
const poolFSType = "stratis-pool"

// DeviceEntry is one block device as reported by the kernel device
// database, with exactly the properties spec.md §4.4/§6 says are read.
type DeviceEntry struct {
	DevNo            ids.KernelDevNo
	DevNode          string
	Initialized      bool
	FSType           string
	MultipathMember  bool
	OtherClaimSignal bool // LVM/RAID/other foreign filesystem/claim markers
}

// DecideOwnership implements the fallback scan's ownership table:
//
//	ID_FS_TYPE=stratis-pool                          -> Stratis
//	no filesystem, no other-claim signals             -> Unowned
//	any other filesystem/LVM/raid/multipath claim     -> Foreign
func DecideOwnership(e DeviceEntry) Ownership {
	if e.FSType == poolFSType {
		return Stratis
	}
	if e.FSType == "" && !e.OtherClaimSignal && !e.MultipathMember {
		return Unowned
	}
	return Foreign
}
