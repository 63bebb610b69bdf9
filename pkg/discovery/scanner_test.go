// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"io"
	"testing"

	"go.uber.org/zap"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

type fakeReadAtCloser struct{ data []byte }

func (f *fakeReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	return n, nil
}
func (f *fakeReadAtCloser) Close() error { return nil }

type fakeDB struct {
	tagged    []DeviceEntry
	all       []DeviceEntry
	taggedErr error
	allErr    error
}

func (d *fakeDB) ScanTagged() ([]DeviceEntry, error) { return d.tagged, d.taggedErr }
func (d *fakeDB) ScanAll() ([]DeviceEntry, error)    { return d.all, d.allErr }

func headerBytes(t *testing.T, pool ids.PoolId, dev ids.DeviceId) []byte {
	t.Helper()
	h := devheader.New(pool, dev, 4096)
	raw, err := h.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return raw
}

func fakeOpener(contents map[string][]byte) Opener {
	return func(devnode string) (ReadAtCloser, error) {
		data, ok := contents[devnode]
		if !ok {
			return &fakeReadAtCloser{data: make([]byte, devheader.FixedHeaderSize)}, nil
		}
		return &fakeReadAtCloser{data: data}, nil
	}
}

func TestScannerPrimaryScanInsertsValidTaggedDevices(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	devno := ids.KernelDevNo{Major: 8, Minor: 1}

	contents := map[string][]byte{"/dev/sda1": headerBytes(t, pool, dev)}
	s := &Scanner{
		DB: &fakeDB{tagged: []DeviceEntry{
			{DevNo: devno, DevNode: "/dev/sda1", Initialized: true},
		}},
		Open:   fakeOpener(contents),
		Logger: zap.NewNop(),
	}

	result, err := s.FindAll()
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if result[pool][devno] != "/dev/sda1" {
		t.Fatalf("FindAll did not insert the tagged device: %+v", result)
	}
}

func TestScannerPrimaryScanSkipsUninitialized(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	devno := ids.KernelDevNo{Major: 8, Minor: 1}

	contents := map[string][]byte{"/dev/sda1": headerBytes(t, pool, dev)}
	s := &Scanner{
		DB: &fakeDB{tagged: []DeviceEntry{
			{DevNo: devno, DevNode: "/dev/sda1", Initialized: false},
		}},
		Open:   fakeOpener(contents),
		Logger: zap.NewNop(),
	}

	result, err := s.FindAll()
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("uninitialized tagged device should be skipped, got %+v", result)
	}
}

func TestScannerPrimaryScanSkipsMultipathMember(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	devno := ids.KernelDevNo{Major: 8, Minor: 1}

	contents := map[string][]byte{"/dev/sda1": headerBytes(t, pool, dev)}
	s := &Scanner{
		DB: &fakeDB{tagged: []DeviceEntry{
			{DevNo: devno, DevNode: "/dev/sda1", Initialized: true, MultipathMember: true},
		}},
		Open:   fakeOpener(contents),
		Logger: zap.NewNop(),
	}

	result, err := s.FindAll()
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("multipath member should be skipped, got %+v", result)
	}
}

func TestScannerFallsBackWhenPrimaryEmpty(t *testing.T) {
	pool := ids.NewPoolId()
	dev := ids.NewDeviceId()
	devnoStratis := ids.KernelDevNo{Major: 8, Minor: 1}
	devnoUnowned := ids.KernelDevNo{Major: 8, Minor: 2}
	devnoForeign := ids.KernelDevNo{Major: 8, Minor: 3}

	contents := map[string][]byte{
		"/dev/sda1": headerBytes(t, pool, dev),
		// /dev/sdb1 (unowned) deliberately carries no valid header.
	}
	s := &Scanner{
		DB: &fakeDB{
			tagged: nil,
			all: []DeviceEntry{
				{DevNo: devnoStratis, DevNode: "/dev/sda1", FSType: "stratis-pool"},
				{DevNo: devnoUnowned, DevNode: "/dev/sdb1"},
				{DevNo: devnoForeign, DevNode: "/dev/sdc1", FSType: "ext4"},
			},
		},
		Open:   fakeOpener(contents),
		Logger: zap.NewNop(),
	}

	result, err := s.FindAll()
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if result[pool][devnoStratis] != "/dev/sda1" {
		t.Fatalf("fallback scan should insert the Stratis-tagged device: %+v", result)
	}
	if len(result[pool]) != 1 {
		t.Fatalf("fallback scan inserted unexpected devices: %+v", result)
	}
}

func TestScannerPropagatesDBError(t *testing.T) {
	s := &Scanner{
		DB:     &fakeDB{taggedErr: io.ErrUnexpectedEOF},
		Open:   fakeOpener(nil),
		Logger: zap.NewNop(),
	}
	if _, err := s.FindAll(); err == nil {
		t.Fatal("expected FindAll to propagate a device database error")
	}
}
