// Copyright (c) 2025 Jeremy Hahn
//
// SPDX-License-Identifier: Apache-2.0

// Package crypt implements the keyring-bound layer of the encryption
// mediator described in spec.md §4.5: deriving keyring payloads from
// passphrases and probing the in-kernel keyring for a usable passphrase.
package crypt

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFParams are the Argon2id parameters used to turn a passphrase into the
// bytes stored under a key description in the kernel keyring. They mirror
// the teacher's Argon2id defaults (time/memory/parallelism), scaled down
// only in test fixtures.
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
}

// DefaultKDFParams matches the teacher's production defaults: 4 passes,
// 1GiB memory, 4-way parallelism, 64-byte (512-bit) output.
var DefaultKDFParams = KDFParams{Time: 4, Memory: 1048576, Threads: 4, KeyLen: 64}

// NewSalt generates a fresh random salt for DeriveKeyringPayload.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypt: generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKeyringPayload derives the byte payload to register in the kernel
// keyring under a device's key description, from a passphrase and salt.
func DeriveKeyringPayload(passphrase, salt []byte, params KDFParams) []byte {
	return argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, params.KeyLen)
}
