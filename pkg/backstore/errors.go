// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package backstore implements the per-device handle (MemberDevice) and the
// aggregate block-device manager (BlockDevMgr) described in spec.md §4.2-§4.3.
package backstore

import "errors"

// Error taxonomy from spec.md §7. All are sentinel errors so callers can use
// errors.Is; some call sites wrap them with extra context via fmt.Errorf.
var (
	// ErrInvalid: precondition violated by caller (wrong pool_id, duplicate
	// paths). A key mismatch in Add is reported as ErrKeyMismatch instead.
	ErrInvalid = errors.New("backstore: invalid request")

	// ErrNotFound: referenced DeviceId absent.
	ErrNotFound = errors.New("backstore: device not found")

	// ErrIoError: underlying syscall or device I/O failure.
	ErrIoError = errors.New("backstore: I/O error")

	// ErrHeaderCorrupt: header magic/checksum fails.
	ErrHeaderCorrupt = errors.New("backstore: header corrupt")

	// ErrInitializationFailed: partial write during initialize/add, after
	// best-effort cleanup.
	ErrInitializationFailed = errors.New("backstore: initialization failed")

	// ErrNoMetadataTarget: save_state found zero willing members.
	ErrNoMetadataTarget = errors.New("backstore: no member accepted metadata write")

	// ErrPartialUnbind: unbind_clevis left the set in a mixed state.
	ErrPartialUnbind = errors.New("backstore: escrow unbind left members in a mixed state")

	// ErrEncryptionMismatch: members disagree on EncryptionInfo.
	ErrEncryptionMismatch = errors.New("backstore: members disagree on encryption info")

	// ErrKeyMismatch: the registered key description could not unlock any
	// existing member (add's proof-of-key check, spec.md §4.3).
	ErrKeyMismatch = errors.New("backstore: key does not unlock existing members")

	// ErrMdaBudget: the largest metadata payload already written, scaled
	// linearly by the grown member count, would exceed the per-member slot
	// capacity (spec.md §9 FIXME,
	// resolved in SPEC_FULL.md as "reject, do not auto-grow").
	ErrMdaBudget = errors.New("backstore: add would violate existing metadata allocation budget")
)
