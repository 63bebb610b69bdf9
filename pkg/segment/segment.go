// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package segment holds the segment value types and the pure target-table
// builder described in spec.md §4.1, plus the device-mapper client wrapper
// that realizes a built table as an actual linear virtual device.
package segment

import (
	"fmt"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

// Sector is a count of 512-byte disk units.
type Sector uint64

// Bytes converts a sector count to a byte count.
func (s Sector) Bytes() uint64 { return uint64(s) * devheader.SectorSize }

// Segment is a contiguous sector run on one device.
type Segment struct {
	Device ids.KernelDevNo
	Start  Sector
	Length Sector
}

// OwnedSegment is a Segment plus the DeviceId of the member device that owns
// the backing region -- what BlockDevMgr.AllocSpace returns to callers.
type OwnedSegment struct {
	Owner ids.DeviceId
	Segment
}

// TargetLine is one entry of a linear device-mapper target table: a dense
// logical range backed by a physical (device, offset) pair.
type TargetLine struct {
	LogicalStart  Sector
	Length        Sector
	BackingDevice ids.KernelDevNo
	PhysicalStart Sector
}

// MapToDM builds a linear target table from an ordered list of owned
// segments. It is total and pure: it never reorders its input, and the
// logical space it produces is dense and monotonic, per spec.md §4.1.
func MapToDM(segs []OwnedSegment) []TargetLine {
	table := make([]TargetLine, 0, len(segs))
	var logicalStart Sector
	for _, s := range segs {
		table = append(table, TargetLine{
			LogicalStart:  logicalStart,
			Length:        s.Length,
			BackingDevice: s.Device,
			PhysicalStart: s.Start,
		})
		logicalStart += s.Length
	}
	return table
}

// TotalLength returns the sum of the lengths of a target table, i.e. the
// logical size of the virtual device it describes.
func TotalLength(table []TargetLine) Sector {
	var total Sector
	for _, t := range table {
		total += t.Length
	}
	return total
}
