// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package devheader implements the on-disk per-device header: the sibling
// "metadata module" contract that spec.md §6 says the block-device manager
// never parses itself, only calls through DeviceIdentifiers/SaveState/LoadState.
//
// Layout on disk, starting at sector 0 of the member device:
//
//	[ fixed header, FixedHeaderSize bytes ][ slot 0 payload ][ slot 1 payload ][ ... free/allocated ... ]
//
// The fixed header carries two independently checksummed, timestamped slot
// records; SaveState always overwrites the older slot, so a crash mid-write
// never destroys both copies.
package devheader

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

const (
	// SectorSize is the fixed disk unit; all sector-denominated values in
	// this package and its callers are counts of this many bytes.
	SectorSize = 512

	magicLen       = 8
	// FixedHeaderSize is the size in bytes of the fixed header prefix,
	// sector-aligned.
	FixedHeaderSize = SectorSize

	// Version is the on-disk header format version this package writes
	// and the only one it reads.
	Version = 1
)

var magic = [magicLen]byte{'B', 'D', 'M', 'H', 'D', 'R', 0, 1}

// ErrNotOurs is returned by DeviceIdentifiers and ReadHeader when the magic
// bytes do not match: the device does not carry one of our headers at all.
var ErrNotOurs = errors.New("devheader: device does not carry a recognized header")

// ErrCorrupt is returned when the header's magic/version matched but no slot
// validated: each slot is either empty (never written) or fails its checksum.
var ErrCorrupt = errors.New("devheader: no metadata slot validated")

// ErrTooLarge is returned by SaveState when the payload exceeds the capacity
// of a single slot.
var ErrTooLarge = errors.New("devheader: payload exceeds max metadata size")

// SlotRecord describes one of the two metadata slots.
type SlotRecord struct {
	Length      uint64
	Checksum    [sha256.Size]byte
	TimestampNs int64
}

// onDiskHeader is the fixed-size binary layout written at offset 0.
type onDiskHeader struct {
	Magic    [magicLen]byte
	Version  uint32
	_        uint32 // padding, kept zero
	PoolId   [16]byte
	DeviceId [16]byte
	MDABytes uint64
	Slots    [2]SlotRecord
}

// Header is the in-memory, byte-order-independent view of onDiskHeader.
type Header struct {
	Pool     ids.PoolId
	Device   ids.DeviceId
	MDABytes uint64
	Slots    [2]SlotRecord
}

// New creates a fresh Header with both slots empty.
func New(pool ids.PoolId, device ids.DeviceId, mdaBytes uint64) *Header {
	return &Header{Pool: pool, Device: device, MDABytes: mdaBytes}
}

func (h *Header) toDisk() onDiskHeader {
	var d onDiskHeader
	d.Magic = magic
	d.Version = Version
	d.PoolId = [16]byte(h.Pool)
	d.DeviceId = [16]byte(h.Device)
	d.MDABytes = h.MDABytes
	d.Slots = h.Slots
	return d
}

func fromDisk(d onDiskHeader) *Header {
	return &Header{
		Pool:     ids.PoolId(d.PoolId),
		Device:   ids.DeviceId(d.DeviceId),
		MDABytes: d.MDABytes,
		Slots:    d.Slots,
	}
}

// MarshalBinary renders the fixed header, padded to FixedHeaderSize.
func (h *Header) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	d := h.toDisk()
	if err := binary.Write(buf, binary.BigEndian, &d); err != nil {
		return nil, fmt.Errorf("devheader: marshal: %w", err)
	}
	if buf.Len() > FixedHeaderSize {
		return nil, fmt.Errorf("devheader: fixed header grew beyond %d bytes", FixedHeaderSize)
	}
	out := make([]byte, FixedHeaderSize)
	copy(out, buf.Bytes())
	return out, nil
}

// ReadHeader reads and validates the fixed header at offset 0.
func ReadHeader(r io.ReaderAt) (*Header, error) {
	raw := make([]byte, FixedHeaderSize)
	if _, err := r.ReadAt(raw, 0); err != nil {
		return nil, fmt.Errorf("devheader: read: %w", err)
	}
	var d onDiskHeader
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &d); err != nil {
		return nil, fmt.Errorf("devheader: decode: %w", err)
	}
	if d.Magic != magic {
		return nil, ErrNotOurs
	}
	if d.Version != Version {
		return nil, fmt.Errorf("devheader: unsupported version %d", d.Version)
	}
	return fromDisk(d), nil
}

// DeviceIdentifiers is the device_identifiers(fd) collaborator spec.md §6
// describes: it returns (pool, device, true, nil) if a valid header is
// present, (_, _, false, nil) if the device simply isn't one of ours, and a
// non-nil error only for genuine I/O or decode failures.
func DeviceIdentifiers(r io.ReaderAt) (ids.PoolId, ids.DeviceId, bool, error) {
	h, err := ReadHeader(r)
	if errors.Is(err, ErrNotOurs) {
		return ids.PoolId{}, ids.DeviceId{}, false, nil
	}
	if err != nil {
		return ids.PoolId{}, ids.DeviceId{}, false, err
	}
	return h.Pool, h.Device, true, nil
}

// SlotPayloadOffset returns the byte offset of the given slot's payload
// region (slot must be 0 or 1).
func (h *Header) SlotPayloadOffset(slot int) int64 {
	return int64(FixedHeaderSize) + int64(slot)*int64(h.SlotPayloadCapacity())
}

// SlotPayloadCapacity is the maximum payload size, in bytes, of a single slot.
func (h *Header) SlotPayloadCapacity() uint64 {
	return h.MDABytes / 2
}

// olderSlot returns the index of the slot with the smaller (or equal)
// timestamp -- ties resolve to slot 0 so the very first SaveState on a
// freshly initialized header (both timestamps zero) is deterministic.
func (h *Header) olderSlot() int {
	if h.Slots[1].TimestampNs < h.Slots[0].TimestampNs {
		return 1
	}
	return 0
}

// SaveState writes payload into the older of the two slots, updates that
// slot's checksum and timestamp, and rewrites the fixed header. On any
// failure the header on disk, and h itself, are left unchanged.
func SaveState(rw interface {
	io.ReaderAt
	io.WriterAt
}, h *Header, payload []byte, timestampNs int64) error {
	if uint64(len(payload)) > h.SlotPayloadCapacity() {
		return ErrTooLarge
	}

	slot := h.olderSlot()
	offset := h.SlotPayloadOffset(slot)

	if _, err := rw.WriteAt(payload, offset); err != nil {
		return fmt.Errorf("devheader: write slot %d: %w", slot, err)
	}

	next := *h
	next.Slots[slot] = SlotRecord{
		Length:      uint64(len(payload)),
		Checksum:    sha256.Sum256(payload),
		TimestampNs: timestampNs,
	}

	raw, err := next.MarshalBinary()
	if err != nil {
		return err
	}
	if _, err := rw.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("devheader: write fixed header: %w", err)
	}

	*h = next
	return nil
}

// LoadState returns the payload of whichever slot is both the newer and
// validates against its checksum, falling back to the other slot if the
// newer one is corrupt. Returns ErrCorrupt if neither slot validates.
func LoadState(r io.ReaderAt, h *Header) ([]byte, int64, error) {
	order := [2]int{0, 1}
	if h.Slots[1].TimestampNs > h.Slots[0].TimestampNs {
		order = [2]int{1, 0}
	}

	for _, slot := range order {
		rec := h.Slots[slot]
		if rec.Length == 0 && rec.TimestampNs == 0 {
			continue
		}
		buf := make([]byte, rec.Length)
		if _, err := r.ReadAt(buf, h.SlotPayloadOffset(slot)); err != nil {
			continue
		}
		if sha256.Sum256(buf) == rec.Checksum {
			return buf, rec.TimestampNs, nil
		}
	}
	return nil, 0, ErrCorrupt
}

// Wipe zeroes the fixed header region, erasing both slot records (and hence
// any trace of which pool/device this was) without touching the payload
// bytes themselves -- sufficient to make the device look unclaimed again to
// a future DeviceIdentifiers scan.
func Wipe(w io.WriterAt) error {
	zero := make([]byte, FixedHeaderSize)
	if _, err := w.WriteAt(zero, 0); err != nil {
		return fmt.Errorf("devheader: wipe: %w", err)
	}
	return nil
}
