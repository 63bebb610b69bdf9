// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

// ReadAtCloser is the capability Scanner needs from an opened devnode.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Opener opens a devnode read-only. The default, Open, is os.Open; tests
// substitute an in-memory fake.
type Opener func(devnode string) (ReadAtCloser, error)

// Open opens devnode read-only via the real filesystem.
func Open(devnode string) (ReadAtCloser, error) {
	return os.Open(devnode) // #nosec G304 -- devnode comes from the kernel device database, not user input
}

// PoolMap is the scan result: pool id -> kernel devno -> devnode path.
type PoolMap map[ids.PoolId]map[ids.KernelDevNo]string

func (m PoolMap) insert(pool ids.PoolId, devno ids.KernelDevNo, path string) {
	inner, ok := m[pool]
	if !ok {
		inner = make(map[ids.KernelDevNo]string)
		m[pool] = inner
	}
	inner[devno] = path
}

// Scanner implements the two-phase discovery pipeline of spec.md §4.4.
type Scanner struct {
	DB     DeviceDB
	Open   Opener
	Logger *zap.Logger
}

// NewScanner returns a Scanner wired to the real device database and opener.
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{DB: NewSysfsDeviceDB(), Open: Open, Logger: logger}
}

// FindAll runs the primary udev-tagged scan, falling back to a full
// enumeration only if the primary scan finds nothing. Per-device errors are
// logged and skipped; the scan itself only fails if the device database
// collaborator could not be asked for a list of devices at all.
func (s *Scanner) FindAll() (PoolMap, error) {
	s.Logger.Info("beginning primary scan for tagged devices")
	tagged, err := s.DB.ScanTagged()
	if err != nil {
		return nil, err
	}

	result := make(PoolMap)
	for _, e := range tagged {
		s.considerTagged(e, result)
	}
	if len(result) > 0 {
		return result, nil
	}

	s.Logger.Info("primary scan found nothing; falling back to full block device enumeration")
	all, err := s.DB.ScanAll()
	if err != nil {
		return nil, err
	}
	fallback := make(PoolMap)
	for _, e := range all {
		s.considerFallback(e, fallback)
	}
	return fallback, nil
}

func (s *Scanner) considerTagged(e DeviceEntry, into PoolMap) {
	if !e.Initialized {
		s.Logger.Debug("skipping uninitialized udev entry", zap.String("devnode", e.DevNode))
		return
	}
	if e.MultipathMember {
		s.Logger.Debug("skipping multipath member", zap.String("devnode", e.DevNode))
		return
	}
	pool, _, ok, err := s.probe(e.DevNode)
	if err != nil {
		s.Logger.Warn("error reading header on tagged device, omitting",
			zap.String("devnode", e.DevNode), zap.Error(err))
		return
	}
	if !ok {
		s.Logger.Warn("device tagged as pool member but no valid header found, omitting",
			zap.String("devnode", e.DevNode))
		return
	}
	into.insert(pool, e.DevNo, e.DevNode)
}

func (s *Scanner) considerFallback(e DeviceEntry, into PoolMap) {
	switch DecideOwnership(e) {
	case Foreign:
		return
	case Stratis, Unowned:
		pool, _, ok, err := s.probe(e.DevNode)
		if err != nil {
			s.Logger.Warn("error reading header during fallback scan, omitting",
				zap.String("devnode", e.DevNode), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		into.insert(pool, e.DevNo, e.DevNode)
	}
}

func (s *Scanner) probe(devnode string) (ids.PoolId, ids.DeviceId, bool, error) {
	f, err := s.Open(devnode)
	if err != nil {
		return ids.PoolId{}, ids.DeviceId{}, false, err
	}
	defer func() { _ = f.Close() }()
	return devheader.DeviceIdentifiers(f)
}
