// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package backstore

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/escrow"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/segment"
)

// fileHandle is the capability MemberDevice needs from the open backing
// device. *os.File satisfies it; a handle of any other type is used without
// flock (see lockFile).
type fileHandle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
}

// freeRun is one contiguous run of unallocated sectors.
type freeRun struct {
	start  segment.Sector
	length segment.Sector
}

// MemberDevice is the per-device handle of spec.md §4.2: it owns one raw
// block device's identity, reserved metadata region, and free-sector
// allocator inside a pool.
type MemberDevice struct {
	id    ids.DeviceId
	pool  ids.PoolId
	devno ids.KernelDevNo
	path  string

	totalSectors segment.Sector
	mdaSectors   segment.Sector

	free []freeRun // ascending by start, pairwise disjoint

	header *devheader.Header
	file   fileHandle

	encryption *EncryptionInfo
}

// NewMemberDevice opens path, sizes it, and builds a fresh header for a
// device being initialized or added for the first time. The reserved
// metadata region occupies the first FixedHeaderSize+mdaBytes bytes of the
// device (the fixed header followed by the two metadata slots, which
// together span mdaBytes); everything after it starts out as a single free
// run.
func NewMemberDevice(path string, devno ids.KernelDevNo, pool ids.PoolId, device ids.DeviceId, mdaBytes uint64) (*MemberDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304 -- path is a validated member device path
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	total, err := blockDeviceSectors(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	mdaSectors := reservedSectors(mdaBytes)
	if mdaSectors > total {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s is too small for a %d byte metadata region", ErrInvalid, path, mdaBytes)
	}

	return &MemberDevice{
		id:           device,
		pool:         pool,
		devno:        devno,
		path:         path,
		totalSectors: total,
		mdaSectors:   mdaSectors,
		free:         []freeRun{{start: mdaSectors, length: total - mdaSectors}},
		header:       devheader.New(pool, device, mdaBytes),
		file:         f,
	}, nil
}

// OpenExistingMemberDevice opens a device already carrying a valid header
// (discovery has already confirmed this) and builds its free list by
// subtracting the caller-supplied allocated runs (sorted by start, disjoint)
// from the space after the reserved region -- working out which runs are
// allocated is the BlockDevMgr's job at assembly time, not this
// constructor's, since only the manager knows about outstanding allocations
// across the whole pool.
func OpenExistingMemberDevice(path string, devno ids.KernelDevNo, header *devheader.Header, allocated []freeRun) (*MemberDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	total, err := blockDeviceSectors(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	mdaSectors := reservedSectors(header.MDABytes)

	m := &MemberDevice{
		id:           header.Device,
		pool:         header.Pool,
		devno:        devno,
		path:         path,
		totalSectors: total,
		mdaSectors:   mdaSectors,
		header:       header,
		file:         f,
	}
	m.free = subtractAllocated(mdaSectors, total, allocated)
	return m, nil
}

// reservedSectors is the whole-sector footprint of the fixed header plus
// both metadata slots -- devheader.Header.SlotPayloadOffset/SlotPayloadCapacity
// lay the two slots out starting at FixedHeaderSize and spanning mdaBytes
// total, so the allocator must not hand out sectors before
// FixedHeaderSize+mdaBytes or it will overlap live metadata.
func reservedSectors(mdaBytes uint64) segment.Sector {
	reservedBytes := uint64(devheader.FixedHeaderSize) + mdaBytes
	return segment.Sector((reservedBytes + devheader.SectorSize - 1) / devheader.SectorSize)
}

// subtractAllocated builds the free-run list for [mdaSectors, total) minus
// the already-allocated runs, which must be sorted by start and disjoint.
func subtractAllocated(mdaSectors, total segment.Sector, allocated []freeRun) []freeRun {
	free := make([]freeRun, 0, len(allocated)+1)
	cursor := mdaSectors
	for _, a := range allocated {
		if a.start > cursor {
			free = append(free, freeRun{start: cursor, length: a.start - cursor})
		}
		cursor = a.start + a.length
	}
	if cursor < total {
		free = append(free, freeRun{start: cursor, length: total - cursor})
	}
	return free
}

func (m *MemberDevice) ID() ids.DeviceId        { return m.id }
func (m *MemberDevice) Pool() ids.PoolId        { return m.pool }
func (m *MemberDevice) DevNo() ids.KernelDevNo  { return m.devno }
func (m *MemberDevice) Path() string            { return m.path }
func (m *MemberDevice) Encryption() *EncryptionInfo { return m.encryption }

// RequestSpace is the first-fit, low-sectors-first allocator of spec.md
// §4.2: best-effort partial satisfaction, returning disjoint runs ordered by
// start summing to min(n, Available()).
func (m *MemberDevice) RequestSpace(n segment.Sector) []segment.Segment {
	if n == 0 {
		return nil
	}
	var result []segment.Segment
	remaining := n
	newFree := make([]freeRun, 0, len(m.free))
	for _, run := range m.free {
		if remaining == 0 {
			newFree = append(newFree, run)
			continue
		}
		take := run.length
		if take > remaining {
			take = remaining
		}
		result = append(result, segment.Segment{Device: m.devno, Start: run.start, Length: take})
		remaining -= take
		if take < run.length {
			newFree = append(newFree, freeRun{start: run.start + take, length: run.length - take})
		}
	}
	m.free = newFree
	return result
}

// Release returns previously-requested sector runs to the free list,
// merging adjacent runs. Used by BlockDevMgr.AllocSpace to unwind a partial
// reservation when the aggregate request cannot be satisfied atomically.
func (m *MemberDevice) Release(segs []segment.Segment) {
	for _, s := range segs {
		m.free = append(m.free, freeRun{start: s.Start, length: s.Length})
	}
	sortFreeRuns(m.free)
	m.free = mergeFreeRuns(m.free)
}

func sortFreeRuns(runs []freeRun) {
	for i := 1; i < len(runs); i++ {
		for j := i; j > 0 && runs[j].start < runs[j-1].start; j-- {
			runs[j], runs[j-1] = runs[j-1], runs[j]
		}
	}
}

func mergeFreeRuns(runs []freeRun) []freeRun {
	if len(runs) == 0 {
		return runs
	}
	merged := make([]freeRun, 0, len(runs))
	cur := runs[0]
	for _, r := range runs[1:] {
		if cur.start+cur.length == r.start {
			cur.length += r.length
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	return append(merged, cur)
}

// Available is the sum of free run lengths.
func (m *MemberDevice) Available() segment.Sector {
	var total segment.Sector
	for _, r := range m.free {
		total += r.length
	}
	return total
}

// TotalSize is the device capacity in bytes.
func (m *MemberDevice) TotalSize() uint64 { return m.totalSectors.Bytes() }

// MetadataSize is the size of the reserved metadata region, constant per
// device.
func (m *MemberDevice) MetadataSize() segment.Sector { return m.mdaSectors }

// MaxMetadataSize is the maximum payload a single SaveState call can write.
func (m *MemberDevice) MaxMetadataSize() uint64 { return m.header.SlotPayloadCapacity() }

// SaveState writes payload into the older metadata slot and advances the
// header. On any failure the header is left unchanged (devheader.SaveState's
// own contract).
func (m *MemberDevice) SaveState(timestampNs int64, payload []byte) error {
	unlock, err := m.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	if err := devheader.SaveState(m.file, m.header, payload, timestampNs); err != nil {
		if errors.Is(err, devheader.ErrTooLarge) {
			return fmt.Errorf("%w: payload exceeds max metadata size on %s", ErrInvalid, m.path)
		}
		return fmt.Errorf("%w: save_state on %s: %v", ErrIoError, m.path, err)
	}
	return nil
}

// LoadState returns the newest validated slot's payload.
func (m *MemberDevice) LoadState() ([]byte, int64, error) {
	payload, ts, err := devheader.LoadState(m.file, m.header)
	if err != nil {
		if errors.Is(err, devheader.ErrCorrupt) {
			return nil, 0, fmt.Errorf("%w: %s", ErrHeaderCorrupt, m.path)
		}
		return nil, 0, fmt.Errorf("%w: load_state on %s: %v", ErrIoError, m.path, err)
	}
	return payload, ts, nil
}

// BindKeyEscrow invokes the external escrow tool for this member, using the
// key material the caller already staged on the shared memory-private
// filesystem for the whole fan-out.
func (m *MemberDevice) BindKeyEscrow(tool escrow.Tool, keyMaterialPath, pin string, configJSON []byte, allowOverwrite bool) error {
	if err := tool.Bind(pin, configJSON, keyMaterialPath, allowOverwrite); err != nil {
		return fmt.Errorf("%w: bind key escrow on %s: %v", ErrIoError, m.path, err)
	}
	return nil
}

// UnbindKeyEscrow invokes the external escrow tool's unbind path for this
// member.
func (m *MemberDevice) UnbindKeyEscrow(tool escrow.Tool, keyMaterialPath, pin string, configJSON []byte) error {
	if err := tool.Unbind(pin, configJSON, keyMaterialPath); err != nil {
		return fmt.Errorf("%w: unbind key escrow on %s: %v", ErrIoError, m.path, err)
	}
	return nil
}

// lockFile flocks the backing device for the duration of a header mutation,
// mirroring the teacher's AcquireFileLock convention of serializing
// multi-step header writes against a concurrent writer outside this process
// (BlockDevMgr's own mutex only serializes writers within it). Handles that
// are not an *os.File are left unlocked.
func (m *MemberDevice) lockFile() (func(), error) {
	f, ok := m.file.(*os.File)
	if !ok {
		return func() {}, nil
	}
	return flockExclusive(f)
}

// persistHeader writes the in-memory header to offset 0, without touching
// either metadata slot. Used once, at initialize/add time, to stamp a
// freshly-created device before it holds any metadata.
func (m *MemberDevice) persistHeader() error {
	unlock, err := m.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	raw, err := m.header.MarshalBinary()
	if err != nil {
		return fmt.Errorf("%w: marshal header for %s: %v", ErrIoError, m.path, err)
	}
	if _, err := m.file.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("%w: write header on %s: %v", ErrIoError, m.path, err)
	}
	return nil
}

// Wipe zeroes the header, making the device look unclaimed to a future
// discovery scan.
func (m *MemberDevice) Wipe() error {
	unlock, err := m.lockFile()
	if err != nil {
		return err
	}
	defer unlock()

	if err := devheader.Wipe(m.file); err != nil {
		return fmt.Errorf("%w: wipe %s: %v", ErrIoError, m.path, err)
	}
	return nil
}

// Close releases the open file handle.
func (m *MemberDevice) Close() error {
	if err := m.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrIoError, m.path, err)
	}
	return nil
}
