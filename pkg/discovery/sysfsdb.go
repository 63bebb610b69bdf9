// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package discovery

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
)

// SysfsDeviceDB is the real DeviceDB, reading the same properties udev
// itself publishes -- from /sys/class/block and the udev runtime database
// at /run/udev/data -- rather than linking libudev (no example in the
// retrieval pack binds libudev from Go; rootfs-rook reads these properties
// straight out of sysfs, and /run/udev/data/b<major>:<minor> is the exact
// on-disk format libudev's own "udevadm info" reads).
type SysfsDeviceDB struct {
	SysClassBlock string // default /sys/class/block
	UdevDataDir   string // default /run/udev/data
}

// NewSysfsDeviceDB returns a SysfsDeviceDB rooted at the standard paths.
func NewSysfsDeviceDB() *SysfsDeviceDB {
	return &SysfsDeviceDB{SysClassBlock: "/sys/class/block", UdevDataDir: "/run/udev/data"}
}

func (d *SysfsDeviceDB) ScanTagged() ([]DeviceEntry, error) {
	all, err := d.ScanAll()
	if err != nil {
		return nil, err
	}
	tagged := make([]DeviceEntry, 0, len(all))
	for _, e := range all {
		if e.FSType == poolFSType {
			tagged = append(tagged, e)
		}
	}
	return tagged, nil
}

func (d *SysfsDeviceDB) ScanAll() ([]DeviceEntry, error) {
	names, err := os.ReadDir(d.SysClassBlock)
	if err != nil {
		return nil, fmt.Errorf("discovery: list %s: %w", d.SysClassBlock, err)
	}

	entries := make([]DeviceEntry, 0, len(names))
	for _, n := range names {
		e, err := d.readEntry(n.Name())
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (d *SysfsDeviceDB) readEntry(name string) (DeviceEntry, error) {
	devPath := filepath.Join(d.SysClassBlock, name, "dev")
	raw, err := os.ReadFile(devPath) // #nosec G304 -- sysfs path built from a fixed root and an enumerated directory entry
	if err != nil {
		return DeviceEntry{}, fmt.Errorf("discovery: read %s: %w", devPath, err)
	}
	major, minor, err := parseDevno(strings.TrimSpace(string(raw)))
	if err != nil {
		return DeviceEntry{}, err
	}

	props, initialized := d.readUdevProperties(major, minor)

	entry := DeviceEntry{
		DevNo:       ids.KernelDevNo{Major: major, Minor: minor},
		DevNode:     filepath.Join("/dev", name),
		Initialized: initialized,
		FSType:      props["ID_FS_TYPE"],
	}
	if devname, ok := props["DEVNAME"]; ok {
		entry.DevNode = devname
	}
	if props["DM_MULTIPATH_DEVICE_PATH"] == "1" {
		entry.MultipathMember = true
	}
	switch {
	case props["ID_FS_TYPE"] != "" && props["ID_FS_TYPE"] != poolFSType:
		entry.OtherClaimSignal = true
	case props["ID_FS_USAGE"] == "raid", props["ID_PART_TABLE_TYPE"] != "":
		entry.OtherClaimSignal = true
	}

	return entry, nil
}

func parseDevno(s string) (major, minor uint32, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("discovery: malformed devno %q", s)
	}
	maj, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("discovery: malformed devno %q: %w", s, err)
	}
	min, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("discovery: malformed devno %q: %w", s, err)
	}
	return uint32(maj), uint32(min), nil
}

// readUdevProperties parses /run/udev/data/b<major>:<minor>, which holds
// one record per line: "E:KEY=VALUE" for a property, "I:<usec>" for the
// timestamp the device was marked initialized. Absence of the file, or of
// an "I:" record, means the database considers the device uninitialized.
func (d *SysfsDeviceDB) readUdevProperties(major, minor uint32) (map[string]string, bool) {
	path := filepath.Join(d.UdevDataDir, fmt.Sprintf("b%d:%d", major, minor))
	f, err := os.Open(path) // #nosec G304 -- path built from fixed root and kernel-reported devno
	if err != nil {
		return map[string]string{}, false
	}
	defer func() { _ = f.Close() }()

	props := map[string]string{}
	initialized := false
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "E:"):
			kv := strings.SplitN(line[2:], "=", 2)
			if len(kv) == 2 {
				props[kv[0]] = kv[1]
			}
		case strings.HasPrefix(line, "I:"):
			initialized = true
		}
	}
	return props, initialized
}
