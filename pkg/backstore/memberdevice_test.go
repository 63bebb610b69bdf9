// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package backstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/segment"
)

// tempDevice creates a regular file of sizeBytes standing in for a block
// device: blockDeviceSectors falls back to os.Stat for non-block files, so
// these tests exercise the real sizing/I/O path without a loop device.
func tempDevice(t *testing.T, sizeBytes int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dev0")
	f, err := os.Create(path) // #nosec G304 -- test fixture path under t.TempDir()
	if err != nil {
		t.Fatalf("create fixture device: %v", err)
	}
	if err := f.Truncate(sizeBytes); err != nil {
		t.Fatalf("truncate fixture device: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture device: %v", err)
	}
	return path
}

func newTestMember(t *testing.T, sizeBytes int64, mdaBytes uint64) *MemberDevice {
	t.Helper()
	path := tempDevice(t, sizeBytes)
	md, err := NewMemberDevice(path, ids.KernelDevNo{Major: 8, Minor: 0}, ids.NewPoolId(), ids.NewDeviceId(), mdaBytes)
	if err != nil {
		t.Fatalf("NewMemberDevice: %v", err)
	}
	t.Cleanup(func() { _ = md.Close() })
	return md
}

// wantReservedSectors mirrors reservedSectors' rounding for test expectations:
// the reserved region is the fixed header (one sector) plus the mdaBytes
// spanned by the two metadata slots.
func wantReservedSectors(mdaBytes uint64) segment.Sector {
	reservedBytes := uint64(devheader.FixedHeaderSize) + mdaBytes
	return segment.Sector((reservedBytes + devheader.SectorSize - 1) / devheader.SectorSize)
}

func TestNewMemberDeviceReservesMetadataRegion(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096) // 1MiB device, 4096-byte MDA (+1 header sector)
	wantMeta := wantReservedSectors(4096)
	if got := md.MetadataSize(); got != wantMeta {
		t.Fatalf("MetadataSize = %d, want %d", got, wantMeta)
	}
	wantAvail := segment.Sector((1<<20)/512) - wantMeta
	if got := md.Available(); got != wantAvail {
		t.Fatalf("Available = %d, want %d", got, wantAvail)
	}
}

func TestRequestSpaceFirstFitLowSectors(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)
	total := md.Available()
	wantMeta := wantReservedSectors(4096)

	segs := md.RequestSpace(10)
	if len(segs) != 1 {
		t.Fatalf("expected a single contiguous run for an uncontested allocator, got %v", segs)
	}
	if segs[0].Start != wantMeta || segs[0].Length != 10 {
		t.Fatalf("RequestSpace(10) = %+v, want start=%d length=10", segs[0], wantMeta)
	}
	if got, want := md.Available(), total-10; got != want {
		t.Fatalf("Available after RequestSpace = %d, want %d", got, want)
	}
}

func TestRequestSpacePartialSatisfaction(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)
	total := md.Available()

	segs := md.RequestSpace(total + 1000)
	var got segment.Sector
	for _, s := range segs {
		got += s.Length
	}
	if got != total {
		t.Fatalf("RequestSpace over-ask returned %d sectors, want exactly %d (min(n, available))", got, total)
	}
	if md.Available() != 0 {
		t.Fatalf("device should be fully allocated, Available() = %d", md.Available())
	}
}

func TestRequestSpaceDisjointAndOrdered(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)

	first := md.RequestSpace(10)
	second := md.RequestSpace(10)
	if first[0].Start+first[0].Length > second[0].Start {
		t.Fatalf("second allocation %+v overlaps first %+v", second[0], first[0])
	}
}

func TestReleaseReturnsSpaceAndMerges(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)
	before := md.Available()

	segs := md.RequestSpace(20)
	if md.Available() != before-20 {
		t.Fatalf("Available after RequestSpace = %d, want %d", md.Available(), before-20)
	}
	md.Release(segs)
	if md.Available() != before {
		t.Fatalf("Available after Release = %d, want %d (fully returned)", md.Available(), before)
	}

	// Re-requesting the same amount should hand back an identical run,
	// proving the released run was merged back in rather than left as a
	// disjoint fragment.
	again := md.RequestSpace(20)
	if again[0].Start != segs[0].Start || again[0].Length != segs[0].Length {
		t.Fatalf("post-release allocation %+v does not match the released run %+v", again[0], segs[0])
	}
}

func TestSaveStateLoadStateRoundTrip(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)

	if err := md.SaveState(100, []byte("hello")); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	payload, ts, err := md.LoadState()
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if ts != 100 || string(payload) != "hello" {
		t.Fatalf("LoadState = (%q, %d), want (\"hello\", 100)", payload, ts)
	}
}

func TestSaveStateRejectsOversizedPayload(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)
	oversized := make([]byte, md.MaxMetadataSize()+1)
	if err := md.SaveState(1, oversized); err == nil {
		t.Fatal("expected SaveState to reject a payload larger than MaxMetadataSize")
	}
}

func TestWipeMakesHeaderUnrecognizable(t *testing.T) {
	md := newTestMember(t, 1<<20, 4096)
	if err := md.persistHeader(); err != nil {
		t.Fatalf("persistHeader: %v", err)
	}
	if err := md.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	f, err := os.Open(md.path) // #nosec G304 -- test fixture path
	if err != nil {
		t.Fatalf("reopen fixture device: %v", err)
	}
	defer func() { _ = f.Close() }()

	_, _, ok, err := devheader.DeviceIdentifiers(f)
	if err != nil {
		t.Fatalf("DeviceIdentifiers after wipe: %v", err)
	}
	if ok {
		t.Fatal("a wiped device should no longer report a recognized header")
	}
}
