// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package backstore

import (
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/crypt"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/devheader"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/escrow"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/ids"
	"github.com/jeremyhahn/go-blockdevmgr/pkg/segment"
)

// MaxNumToWrite is MAX_NUM_TO_WRITE from spec.md §6: the metadata fan-out
// cap on SaveState.
const MaxNumToWrite = 10

// Rand is the injectable source of randomness SaveState uses to pick its
// fan-out subset (spec.md §9, "Random selection"). It is deliberately
// shaped to match (*math/rand.Rand).Shuffle so the stdlib type satisfies it
// directly; tests substitute a deterministic fake.
type Rand interface {
	Shuffle(n int, swap func(i, j int))
}

// BlockDevMgr is the aggregate owner of a pool's member devices, spec.md
// §4.3. All mutating methods take the write lock; read-only accessors take
// the read lock (spec.md §5).
type BlockDevMgr struct {
	mu      sync.RWMutex
	pool    ids.PoolId
	members []*MemberDevice
	byID    map[ids.DeviceId]int

	lastUpdateNs *int64

	rand   Rand
	clock  func() int64
	logger *zap.Logger

	keyring    crypt.Keyring
	escrowTool escrow.Tool
	keyDesc    string
}

func newBlockDevMgr(pool ids.PoolId, logger *zap.Logger, keyring crypt.Keyring, escrowTool escrow.Tool, rng Rand) *BlockDevMgr {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlockDevMgr{
		pool:       pool,
		byID:       make(map[ids.DeviceId]int),
		rand:       rng,
		clock:      func() int64 { return time.Now().UnixNano() },
		logger:     logger,
		keyring:    keyring,
		escrowTool: escrowTool,
	}
}

func (m *BlockDevMgr) addMemberLocked(md *MemberDevice) {
	m.members = append(m.members, md)
	m.byID[md.ID()] = len(m.members) - 1
}

func (m *BlockDevMgr) rebuildIndexLocked() {
	m.byID = make(map[ids.DeviceId]int, len(m.members))
	for i, md := range m.members {
		m.byID[md.ID()] = i
	}
}

func checkNoDuplicatePaths(paths []string) error {
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: duplicate path %s", ErrInvalid, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// checkClaim rejects a path that already carries a valid header for a
// different pool (spec.md §4.3's initialize/add precondition).
func checkClaim(path string, pool ids.PoolId) error {
	f, err := os.Open(path) // #nosec G304 -- path is caller-supplied device path, not web input
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	defer func() { _ = f.Close() }()

	existingPool, _, ok, err := devheader.DeviceIdentifiers(f)
	if err != nil {
		return fmt.Errorf("%w: read header on %s: %v", ErrIoError, path, err)
	}
	if ok && existingPool != pool {
		return fmt.Errorf("%w: %s already belongs to pool %s", ErrInvalid, path, existingPool)
	}
	return nil
}

// Initialize creates a fresh BlockDevMgr over paths, stamping each with a
// newly-minted DeviceId and pool_id. All-or-nothing: any failure wipes
// whatever headers were already written before returning.
func Initialize(pool ids.PoolId, paths []string, mdaBytes uint64, keyDesc string, logger *zap.Logger, keyring crypt.Keyring, escrowTool escrow.Tool, rng Rand) (*BlockDevMgr, error) {
	if err := checkNoDuplicatePaths(paths); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := checkClaim(p, pool); err != nil {
			return nil, err
		}
	}

	m := newBlockDevMgr(pool, logger, keyring, escrowTool, rng)
	m.keyDesc = keyDesc

	var created []*MemberDevice
	rollback := func() {
		for _, md := range created {
			if err := md.Wipe(); err != nil {
				m.logger.Warn("failed to wipe member during initialize rollback",
					zap.String("path", md.Path()), zap.Error(err))
			}
			_ = md.Close()
		}
	}

	for _, p := range paths {
		devno, err := devnoOf(p)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		md, err := NewMemberDevice(p, devno, pool, ids.NewDeviceId(), mdaBytes)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		if err := md.persistHeader(); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		created = append(created, md)
	}

	for _, md := range created {
		m.addMemberLocked(md)
	}
	return m, nil
}

// AssembleBlockDevMgr constructs a BlockDevMgr from devices already bearing a
// valid header for pool, per spec.md §2's "pool assembly ... constructs a
// block-device manager from per-device handles". devnodes maps each known
// member's kernel device number to its current devnode path, as produced by
// a discovery scan; allocated carries, per member, the sector runs the
// upper (thin-pool) layer has already parsed out of pool metadata as
// in-use, so the free-sector allocator starts in the correct state instead
// of believing the whole device is free. enc is the EncryptionInfo recovered
// from pool metadata, applied uniformly to every member; a pool discovered
// with disagreeing per-member encryption state is an EncryptionMismatch and
// must be rejected by the caller before calling this function (spec.md §7:
// "only from discovery; must refuse to assemble").
func AssembleBlockDevMgr(
	pool ids.PoolId,
	devnodes map[ids.KernelDevNo]string,
	allocated map[ids.KernelDevNo][]segment.Segment,
	enc *EncryptionInfo,
	keyDesc string,
	logger *zap.Logger,
	keyring crypt.Keyring,
	escrowTool escrow.Tool,
	rng Rand,
) (*BlockDevMgr, error) {
	m := newBlockDevMgr(pool, logger, keyring, escrowTool, rng)
	m.keyDesc = keyDesc

	for devno, path := range devnodes {
		md, err := openAssembledMember(pool, devno, path, allocated[devno])
		if err != nil {
			for _, opened := range m.members {
				_ = opened.Close()
			}
			return nil, err
		}
		md.encryption = enc
		m.addMemberLocked(md)
	}

	if err := m.checkInvariants(); err != nil {
		for _, opened := range m.members {
			_ = opened.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrEncryptionMismatch, err)
	}
	return m, nil
}

func openAssembledMember(pool ids.PoolId, devno ids.KernelDevNo, path string, inUse []segment.Segment) (*MemberDevice, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from the kernel device database via discovery
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	header, err := devheader.ReadHeader(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: read header on %s: %v", ErrHeaderCorrupt, path, err)
	}
	if header.Pool != pool {
		return nil, fmt.Errorf("%w: %s belongs to pool %s, not %s", ErrInvalid, path, header.Pool, pool)
	}

	runs := make([]freeRun, len(inUse))
	for i, s := range inUse {
		runs[i] = freeRun{start: s.Start, length: s.Length}
	}
	sortFreeRuns(runs)
	return OpenExistingMemberDevice(path, devno, header, runs)
}

func (m *BlockDevMgr) encryptionInfoLocked() *EncryptionInfo {
	if len(m.members) == 0 {
		return nil
	}
	return m.members[0].encryption
}

func (m *BlockDevMgr) hasValidPassphraseLocked() (bool, error) {
	enc := m.encryptionInfoLocked()
	if enc == nil {
		return true, nil
	}
	ok, err := m.keyring.HasValidPassphrase(enc.KeyDescription)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	return ok, nil
}

func (m *BlockDevMgr) isExistingMemberLocked(path string) (bool, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return false, fmt.Errorf("%w: open %s: %v", ErrIoError, path, err)
	}
	defer func() { _ = f.Close() }()

	pool, device, ok, err := devheader.DeviceIdentifiers(f)
	if err != nil {
		return false, fmt.Errorf("%w: read header on %s: %v", ErrIoError, path, err)
	}
	if !ok || pool != m.pool {
		return false, nil
	}
	_, present := m.byID[device]
	return present, nil
}

// checkMdaBudgetLocked rejects an add that would, by a simple linear
// extrapolation of metadata size with member count, no longer fit the
// per-member slot capacity every existing member was allocated. This is a
// deliberately conservative heuristic (spec.md §9 leaves the exact policy an
// open question; DESIGN.md records the decision to reject rather than
// auto-grow).
func (m *BlockDevMgr) checkMdaBudgetLocked(newPaths []string) error {
	if len(newPaths) == 0 || len(m.members) == 0 {
		return nil
	}
	oldCount := uint64(len(m.members))
	newCount := oldCount + uint64(len(newPaths))
	perSlotCapacity := m.members[0].MaxMetadataSize()

	var maxWritten uint64
	for _, md := range m.members {
		for _, s := range md.header.Slots {
			if s.Length > maxWritten {
				maxWritten = s.Length
			}
		}
	}
	if maxWritten == 0 {
		return nil
	}
	projected := maxWritten * newCount / oldCount
	if projected > perSlotCapacity {
		return ErrMdaBudget
	}
	return nil
}

// Add adds new member devices to an existing, non-empty manager. Paths that
// are already members of this pool are treated as a no-op (spec.md §8
// scenario 2). If the manager is encrypted, the registered key must unlock
// at least one existing member before any new member is created.
func (m *BlockDevMgr) Add(pool ids.PoolId, paths []string) ([]ids.DeviceId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.members) == 0 {
		return nil, fmt.Errorf("%w: add requires a non-empty manager", ErrInvalid)
	}
	if pool != m.pool {
		return nil, fmt.Errorf("%w: add pool_id %s does not match manager pool_id %s", ErrInvalid, pool, m.pool)
	}
	if err := checkNoDuplicatePaths(paths); err != nil {
		return nil, err
	}

	var toInitialize []string
	for _, p := range paths {
		present, err := m.isExistingMemberLocked(p)
		if err != nil {
			return nil, err
		}
		if present {
			continue
		}
		if err := checkClaim(p, pool); err != nil {
			return nil, err
		}
		toInitialize = append(toInitialize, p)
	}

	if enc := m.encryptionInfoLocked(); enc != nil {
		ok, err := m.hasValidPassphraseLocked()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrKeyMismatch
		}
	}

	if err := m.checkMdaBudgetLocked(toInitialize); err != nil {
		return nil, err
	}

	mdaBytes := m.members[0].header.MDABytes
	enc := m.encryptionInfoLocked()

	var created []*MemberDevice
	rollback := func() {
		for _, md := range created {
			if err := md.Wipe(); err != nil {
				m.logger.Warn("failed to wipe member during add rollback",
					zap.String("path", md.Path()), zap.Error(err))
			}
			_ = md.Close()
		}
	}

	for _, p := range toInitialize {
		devno, err := devnoOf(p)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		md, err := NewMemberDevice(p, devno, pool, ids.NewDeviceId(), mdaBytes)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		if err := md.persistHeader(); err != nil {
			rollback()
			return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
		}
		md.encryption = enc
		created = append(created, md)
	}

	newIDs := make([]ids.DeviceId, 0, len(created))
	for _, md := range created {
		m.addMemberLocked(md)
		newIDs = append(newIDs, md.ID())
	}
	return newIDs, nil
}

// Remove drops the given members: map-keyed lookup, all-or-nothing (spec.md
// §9 "remove_blockdevs backward-scan" redesign flag).
func (m *BlockDevMgr) Remove(deviceIDs []ids.DeviceId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	toRemove := make(map[int]struct{}, len(deviceIDs))
	for _, id := range deviceIDs {
		idx, ok := m.byID[id]
		if !ok {
			return fmt.Errorf("%w: device %s", ErrNotFound, id)
		}
		toRemove[idx] = struct{}{}
	}

	kept := make([]*MemberDevice, 0, len(m.members)-len(toRemove))
	removed := make([]*MemberDevice, 0, len(toRemove))
	for i, md := range m.members {
		if _, ok := toRemove[i]; ok {
			removed = append(removed, md)
			continue
		}
		kept = append(kept, md)
	}

	for _, md := range removed {
		if err := md.Wipe(); err != nil {
			m.logger.Warn("failed to wipe member during remove", zap.String("path", md.Path()), zap.Error(err))
		}
		_ = md.Close()
	}

	m.members = kept
	m.rebuildIndexLocked()
	return nil
}

func (m *BlockDevMgr) availSpaceLocked() segment.Sector {
	var total segment.Sector
	for _, md := range m.members {
		total += md.Available()
	}
	return total
}

// AllocSpace atomically allocates sector runs for each requested size. On
// success, every result[i]'s total length equals sizes[i]. On failure
// (insufficient total space), no device state changes and ok is false.
func (m *BlockDevMgr) AllocSpace(sizes []segment.Sector) (result [][]segment.OwnedSegment, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total segment.Sector
	for _, s := range sizes {
		total += s
	}
	if total > m.availSpaceLocked() {
		return nil, false
	}

	type reservation struct {
		member *MemberDevice
		segs   []segment.Segment
	}
	var reservations []reservation
	rollback := func() {
		for _, r := range reservations {
			r.member.Release(r.segs)
		}
	}

	out := make([][]segment.OwnedSegment, len(sizes))
	for i, size := range sizes {
		var owned []segment.OwnedSegment
		remaining := size
		for _, md := range m.members {
			if remaining == 0 {
				break
			}
			segs := md.RequestSpace(remaining)
			if len(segs) == 0 {
				continue
			}
			reservations = append(reservations, reservation{member: md, segs: segs})
			for _, s := range segs {
				owned = append(owned, segment.OwnedSegment{Owner: md.ID(), Segment: s})
				remaining -= s.Length
			}
		}
		if remaining != 0 {
			rollback()
			return nil, false
		}
		out[i] = owned
	}
	return out, true
}

// AvailSpace is the sum of every member's available space.
func (m *BlockDevMgr) AvailSpace() segment.Sector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availSpaceLocked()
}

// Size is the sum of every member's total size, in bytes.
func (m *BlockDevMgr) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total uint64
	for _, md := range m.members {
		total += md.TotalSize()
	}
	return total
}

// MetadataSize is the sum of every member's reserved metadata region.
func (m *BlockDevMgr) MetadataSize() segment.Sector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total segment.Sector
	for _, md := range m.members {
		total += md.MetadataSize()
	}
	return total
}

// SaveState computes stamp = max(now, last_update_time + 1ns), selects at
// most MaxNumToWrite members uniformly at random among those with enough
// metadata space, and writes to each. Succeeds if at least one accepts.
func (m *BlockDevMgr) SaveState(payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stamp := m.clock()
	if m.lastUpdateNs != nil && stamp <= *m.lastUpdateNs {
		stamp = *m.lastUpdateNs + 1
	}

	candidates := make([]*MemberDevice, 0, len(m.members))
	for _, md := range m.members {
		if md.MaxMetadataSize() >= uint64(len(payload)) {
			candidates = append(candidates, md)
		}
	}

	m.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	n := len(candidates)
	if n > MaxNumToWrite {
		n = MaxNumToWrite
	}

	successes := 0
	for _, md := range candidates[:n] {
		if err := md.SaveState(stamp, payload); err != nil {
			m.logger.Warn("save_state failed on member", zap.String("path", md.Path()), zap.Error(err))
			continue
		}
		successes++
	}

	if successes == 0 {
		return ErrNoMetadataTarget
	}

	m.lastUpdateNs = &stamp
	return nil
}

// BindClevis binds a network-escrow pin/config pair across every member.
// Idempotent: rebinding the same (pin, config) is a false, nil no-op.
// Rebinding a different one is rejected without touching any member. On a
// mid-fanout failure, already-bound members are unwound; rollback failures
// are logged, not propagated (spec.md §4.6).
func (m *BlockDevMgr) BindClevis(pin string, config escrow.Config) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.encryptionInfoLocked()
	want := &EscrowBinding{Pin: pin, Config: config}
	if current != nil && current.Escrow != nil {
		if escrowEqual(current.Escrow, want) {
			return false, nil
		}
		return false, fmt.Errorf("%w: escrow binding already present with a different (pin, config)", ErrInvalid)
	}

	configJSON, err := escrow.MarshalConfig(config)
	if err != nil {
		return false, err
	}
	allowOverwrite, err := escrow.InterpretConfig(pin, config)
	if err != nil {
		return false, err
	}

	pfs, err := escrow.NewMemoryPrivateFilesystem()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoError, err)
	}
	defer func() {
		if err := pfs.Release(); err != nil {
			m.logger.Warn("failed to release memory-private filesystem", zap.Error(err))
		}
	}()

	keyDesc := m.keyDesc
	if keyDesc == "" {
		keyDesc = "blockdevmgr"
	}
	keyMaterialPath, err := pfs.WriteKeyMaterial(keyDesc, []byte(keyDesc))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrIoError, err)
	}

	var bound []*MemberDevice
	var bindErr error
	for _, md := range m.members {
		if err := md.BindKeyEscrow(m.escrowTool, keyMaterialPath, pin, configJSON, allowOverwrite); err != nil {
			bindErr = err
			break
		}
		bound = append(bound, md)
	}

	if bindErr != nil {
		for _, md := range bound {
			if err := md.UnbindKeyEscrow(m.escrowTool, keyMaterialPath, pin, configJSON); err != nil {
				m.logger.Warn("rollback unbind failed during bind_clevis",
					zap.String("path", md.Path()), zap.Error(err))
			}
		}
		return false, bindErr
	}

	newEnc := &EncryptionInfo{Escrow: want}
	if current != nil {
		newEnc.KeyDescription = current.KeyDescription
	}
	for _, md := range m.members {
		md.encryption = newEnc
	}
	return true, nil
}

// UnbindClevis removes the escrow binding from every member. Not atomic in
// the failure direction: a partial failure is reported as ErrPartialUnbind
// but no rollback is attempted (spec.md §4.3, §9 "Non-atomic unbind").
func (m *BlockDevMgr) UnbindClevis() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.encryptionInfoLocked()
	if current == nil || current.Escrow == nil {
		return false, nil
	}

	configJSON, err := escrow.MarshalConfig(current.Escrow.Config)
	if err != nil {
		return false, err
	}

	var failed int
	for _, md := range m.members {
		if err := md.UnbindKeyEscrow(m.escrowTool, "", current.Escrow.Pin, configJSON); err != nil {
			m.logger.Warn("unbind_clevis failed on member", zap.String("path", md.Path()), zap.Error(err))
			failed++
			continue
		}
		md.encryption = &EncryptionInfo{KeyDescription: current.KeyDescription}
	}

	if failed > 0 {
		return true, ErrPartialUnbind
	}
	return true, nil
}

// EncryptionInfo returns the (necessarily unique) EncryptionInfo shared by
// every member, or nil if the pool is unencrypted.
func (m *BlockDevMgr) EncryptionInfo() *EncryptionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encryptionInfoLocked()
}

// IsEncrypted reports whether the pool has any EncryptionInfo at all.
func (m *BlockDevMgr) IsEncrypted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.encryptionInfoLocked() != nil
}

// HasValidPassphrase is the proof-of-key probe: true if the registered key
// description currently unlocks at least one member.
func (m *BlockDevMgr) HasValidPassphrase() (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasValidPassphraseLocked()
}

// UUIDToDevno maps every member's DeviceId to its kernel device number,
// restored from original_source (dropped by the spec.md distillation,
// excluded by no stated Non-goal).
func (m *BlockDevMgr) UUIDToDevno() map[ids.DeviceId]ids.KernelDevNo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[ids.DeviceId]ids.KernelDevNo, len(m.members))
	for _, md := range m.members {
		out[md.ID()] = md.DevNo()
	}
	return out
}

// MemberDeviceView is a read-only snapshot of one member, returned by
// Blockdevs so callers cannot mutate manager state through it.
type MemberDeviceView struct {
	ID       ids.DeviceId
	DevNo    ids.KernelDevNo
	Path     string
	Total    uint64
	Metadata segment.Sector
	Avail    segment.Sector
}

// Blockdevs lists every member as a read-only view, restored from
// original_source.
func (m *BlockDevMgr) Blockdevs() []MemberDeviceView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	views := make([]MemberDeviceView, 0, len(m.members))
	for _, md := range m.members {
		views = append(views, MemberDeviceView{
			ID:       md.ID(),
			DevNo:    md.DevNo(),
			Path:     md.Path(),
			Total:    md.TotalSize(),
			Metadata: md.MetadataSize(),
			Avail:    md.Available(),
		})
	}
	return views
}

// GetBlockdevByUUID looks up a member by DeviceId, restored from
// original_source.
func (m *BlockDevMgr) GetBlockdevByUUID(id ids.DeviceId) (*MemberDevice, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return m.members[idx], true
}

// checkInvariants re-validates the invariants of spec.md §3. Called by
// AssembleBlockDevMgr before it returns, and by tests.
func (m *BlockDevMgr) checkInvariants() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, md := range m.members {
		if md.Pool() != m.pool {
			return fmt.Errorf("member %s has pool %s, manager has %s", md.ID(), md.Pool(), m.pool)
		}
	}

	var enc *EncryptionInfo
	if len(m.members) > 0 {
		enc = m.members[0].encryption
	}
	for _, md := range m.members {
		if !enc.Equal(md.encryption) {
			return fmt.Errorf("%w", ErrEncryptionMismatch)
		}
	}

	seen := make(map[ids.DeviceId]struct{}, len(m.members))
	for _, md := range m.members {
		if _, dup := seen[md.ID()]; dup {
			return fmt.Errorf("duplicate device id %s", md.ID())
		}
		seen[md.ID()] = struct{}{}
	}

	var total, meta, avail uint64
	for _, md := range m.members {
		total += md.TotalSize()
		meta += md.MetadataSize().Bytes()
		avail += md.Available().Bytes()
	}
	if total < meta+avail {
		return fmt.Errorf("size accounting invariant violated: total %d < metadata %d + avail %d", total, meta, avail)
	}

	return nil
}
