// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package crypt

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// keySpecSessionKeyring is KEY_SPEC_SESSION_KEYRING from linux/keyctl.h: the
// calling process's session keyring, where the host orchestrator is assumed
// to have placed unlock passphrases before calling any operation that needs
// one (spec.md §5, "Shared resources").
const keySpecSessionKeyring = -3

const keyTypeUser = "user"

// ErrKeyNotPresent describes a key description that is not currently in the
// session keyring. HasValidPassphrase does not return it: it reports a
// missing key as (false, nil).
var ErrKeyNotPresent = errors.New("crypt: key description not present in session keyring")

// AddToKeyring registers payload under description in the session keyring,
// returning the new key's serial number.
func AddToKeyring(description string, payload []byte) (int, error) {
	id, err := unix.AddKey(keyTypeUser, description, payload, keySpecSessionKeyring)
	if err != nil {
		return 0, fmt.Errorf("crypt: add_key(%q): %w", description, err)
	}
	return id, nil
}

// HasValidPassphrase probes the session keyring non-destructively for a key
// matching description, per spec.md §4.5: activation is never attempted
// during the probe, only presence/retrievability, since every member shares
// EncryptionInfo and so shares the same key description.
func HasValidPassphrase(description string) (bool, error) {
	id, err := unix.RequestKey(keyTypeUser, description, "", keySpecSessionKeyring)
	if err != nil {
		if errors.Is(err, unix.ENOKEY) || errors.Is(err, unix.EKEYREVOKED) || errors.Is(err, unix.EKEYEXPIRED) {
			return false, nil
		}
		return false, fmt.Errorf("crypt: request_key(%q): %w", description, err)
	}
	return id > 0, nil
}

// Unlink removes description's key from the session keyring, used when
// tearing down a pool's encryption entirely.
func Unlink(description string) error {
	id, err := unix.RequestKey(keyTypeUser, description, "", keySpecSessionKeyring)
	if err != nil {
		if errors.Is(err, unix.ENOKEY) {
			return nil
		}
		return fmt.Errorf("crypt: request_key(%q): %w", description, err)
	}
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, id, keySpecSessionKeyring, 0, 0); err != nil {
		return fmt.Errorf("crypt: unlink %q: %w", description, err)
	}
	return nil
}
