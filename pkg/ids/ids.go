// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package ids defines the opaque, collision-resistant identifiers used
// throughout the backstore: pool and device UUIDs, and the kernel's
// (major, minor) device number pair.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// PoolId uniquely identifies a pool across the host.
type PoolId uuid.UUID

// DeviceId uniquely identifies a member device within a pool, and, per
// invariant 6, at most once across all live pools on the host.
type DeviceId uuid.UUID

// NewPoolId mints a fresh, random PoolId.
func NewPoolId() PoolId {
	return PoolId(uuid.New())
}

// NewDeviceId mints a fresh, random DeviceId.
func NewDeviceId() DeviceId {
	return DeviceId(uuid.New())
}

func (p PoolId) String() string   { return uuid.UUID(p).String() }
func (d DeviceId) String() string { return uuid.UUID(d).String() }

// ParsePoolId parses the canonical string form of a PoolId.
func ParsePoolId(s string) (PoolId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return PoolId{}, fmt.Errorf("parse pool id: %w", err)
	}
	return PoolId(u), nil
}

// ParseDeviceId parses the canonical string form of a DeviceId.
func ParseDeviceId(s string) (DeviceId, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return DeviceId{}, fmt.Errorf("parse device id: %w", err)
	}
	return DeviceId(u), nil
}

// KernelDevNo is the kernel's (major, minor) device number pair.
type KernelDevNo struct {
	Major uint32
	Minor uint32
}

func (d KernelDevNo) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}
