// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package devheader

import (
	"bytes"
	"errors"
	"testing"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

// memBuf is a growable in-memory ReaderAt/WriterAt, standing in for a
// block device file in these unit tests.
type memBuf struct {
	data []byte
}

func (m *memBuf) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, bytes.ErrTooLarge
	}
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memBuf) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], p)
	return len(p), nil
}

func newMemBuf(size int) *memBuf {
	return &memBuf{data: make([]byte, size)}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	h := New(pool, dev, 4096)

	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(raw) != FixedHeaderSize {
		t.Fatalf("marshaled header is %d bytes, want %d", len(raw), FixedHeaderSize)
	}

	buf := newMemBuf(FixedHeaderSize)
	if _, err := buf.WriteAt(raw, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	got, err := ReadHeader(buf)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if got.Pool != pool || got.Device != dev || got.MDABytes != 4096 {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestDeviceIdentifiersNotOurs(t *testing.T) {
	buf := newMemBuf(FixedHeaderSize)
	_, _, ok, err := DeviceIdentifiers(buf)
	if err != nil {
		t.Fatalf("DeviceIdentifiers on a blank device: %v", err)
	}
	if ok {
		t.Fatal("a blank device should not report a valid header")
	}
}

func TestDeviceIdentifiersValid(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	h := New(pool, dev, 4096)
	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	buf := newMemBuf(FixedHeaderSize)
	if _, err := buf.WriteAt(raw, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	gotPool, gotDev, ok, err := DeviceIdentifiers(buf)
	if err != nil || !ok {
		t.Fatalf("DeviceIdentifiers: ok=%v err=%v", ok, err)
	}
	if gotPool != pool || gotDev != dev {
		t.Fatalf("DeviceIdentifiers mismatch: got (%s, %s)", gotPool, gotDev)
	}
}

func TestSaveStateAlternatesSlots(t *testing.T) {
	h := New(ids.NewPoolId(), ids.NewDeviceId(), 4096)
	buf := newMemBuf(int(FixedHeaderSize) + int(h.SlotPayloadCapacity())*2)

	if err := SaveState(buf, h, []byte("first"), 100); err != nil {
		t.Fatalf("SaveState #1: %v", err)
	}
	if h.Slots[0].TimestampNs != 100 {
		t.Fatalf("expected slot 0 to be written first, got %+v", h.Slots)
	}

	if err := SaveState(buf, h, []byte("second"), 200); err != nil {
		t.Fatalf("SaveState #2: %v", err)
	}
	if h.Slots[1].TimestampNs != 200 {
		t.Fatalf("expected slot 1 to be written second, got %+v", h.Slots)
	}

	payload, ts, err := LoadState(buf, h)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if ts != 200 || string(payload) != "second" {
		t.Fatalf("LoadState returned (%q, %d), want (\"second\", 200)", payload, ts)
	}
}

func TestSaveStateRejectsOversizedPayload(t *testing.T) {
	h := New(ids.NewPoolId(), ids.NewDeviceId(), 4096)
	buf := newMemBuf(int(FixedHeaderSize) + int(h.SlotPayloadCapacity())*2)

	oversized := make([]byte, h.SlotPayloadCapacity()+1)
	if err := SaveState(buf, h, oversized, 1); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("SaveState with oversized payload: got %v, want ErrTooLarge", err)
	}
	if h.Slots[0].TimestampNs != 0 || h.Slots[1].TimestampNs != 0 {
		t.Fatal("a rejected SaveState must leave the header unchanged")
	}
}

func TestLoadStateFallsBackOnCorruption(t *testing.T) {
	h := New(ids.NewPoolId(), ids.NewDeviceId(), 4096)
	buf := newMemBuf(int(FixedHeaderSize) + int(h.SlotPayloadCapacity())*2)

	if err := SaveState(buf, h, []byte("good"), 10); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := SaveState(buf, h, []byte("newer"), 20); err != nil {
		t.Fatalf("SaveState: %v", err)
	}

	// Corrupt the newer (slot 1) payload in place without updating its
	// checksum, simulating a torn write.
	offset := h.SlotPayloadOffset(1)
	if _, err := buf.WriteAt([]byte("XXXXX"), offset); err != nil {
		t.Fatalf("corrupt slot 1: %v", err)
	}

	payload, ts, err := LoadState(buf, h)
	if err != nil {
		t.Fatalf("LoadState after corruption: %v", err)
	}
	if ts != 10 || string(payload) != "good" {
		t.Fatalf("LoadState should fall back to slot 0: got (%q, %d)", payload, ts)
	}
}

func TestLoadStateBothCorrupt(t *testing.T) {
	h := New(ids.NewPoolId(), ids.NewDeviceId(), 4096)
	buf := newMemBuf(int(FixedHeaderSize) + int(h.SlotPayloadCapacity())*2)

	if err := SaveState(buf, h, []byte("good"), 10); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if _, err := buf.WriteAt([]byte("XXXX"), h.SlotPayloadOffset(0)); err != nil {
		t.Fatalf("corrupt slot 0: %v", err)
	}

	if _, _, err := LoadState(buf, h); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("LoadState with both slots invalid: got %v, want ErrCorrupt", err)
	}
}

func TestWipeErasesHeader(t *testing.T) {
	h := New(ids.NewPoolId(), ids.NewDeviceId(), 4096)
	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	buf := newMemBuf(FixedHeaderSize)
	if _, err := buf.WriteAt(raw, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}

	if err := Wipe(buf); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	if _, _, ok, err := DeviceIdentifiers(buf); ok || err != nil {
		t.Fatalf("DeviceIdentifiers after wipe: ok=%v err=%v, want ok=false err=nil", ok, err)
	}
}
