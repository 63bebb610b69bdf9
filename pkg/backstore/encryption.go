// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

package backstore

import (
	"bytes"
	"encoding/json"

	"github.com/jeremyhahn/go-blockdevmgr/pkg/escrow"
)

// EncryptionInfo is the keyring-bound (plus optional escrow-bound)
// encryption state. Invariant 2 (spec.md §3) requires it be either absent on
// every member of a BlockDevMgr, or present and byte-identical on every one.
type EncryptionInfo struct {
	KeyDescription string
	Escrow         *EscrowBinding
}

// EscrowBinding is the network-escrow-bound layer: an opaque (pin, JSON
// config) pair, spec.md §4.5.
type EscrowBinding struct {
	Pin    string
	Config escrow.Config
}

// Equal reports whether two EncryptionInfo values are byte-identical.
func (e *EncryptionInfo) Equal(o *EncryptionInfo) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.KeyDescription != o.KeyDescription {
		return false
	}
	return escrowEqual(e.Escrow, o.Escrow)
}

func escrowEqual(a, b *EscrowBinding) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Pin != b.Pin {
		return false
	}
	aj, err := json.Marshal(a.Config)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b.Config)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
