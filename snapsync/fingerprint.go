// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint is the canonical serialized form of a snapshot. It is stored as the
// attempt payload and compared byte-for-byte against the last successful one.
type Fingerprint struct {
	Canonical string
}

// NewFingerprint encodes the snapshot canonically: fixed field order from the typed
// models, absent collections as empty arrays, absent optional scalars as null.
// Logically equal snapshots always produce equal fingerprints regardless of the key
// order or whitespace of the submitted JSON.
func NewFingerprint(s *Snapshot) (Fingerprint, error) {
	if s == nil {
		return Fingerprint{}, fmt.Errorf("nil snapshot")
	}
	canon := Snapshot{
		Users: s.Users,
		Tasks: s.Tasks,
	}
	if canon.Users == nil {
		canon.Users = []User{}
	}
	if canon.Tasks == nil {
		canon.Tasks = []Task{}
	}
	raw, err := json.Marshal(&canon)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return Fingerprint{Canonical: string(raw)}, nil
}

// Digest returns the hex SHA-256 of the canonical form, used in logs and events
func (f Fingerprint) Digest() string {
	sum := sha256.Sum256([]byte(f.Canonical))
	return hex.EncodeToString(sum[:])
}

// Equal reports byte-for-byte equality with a stored fingerprint
func (f Fingerprint) Equal(stored string) bool {
	return f.Canonical == stored
}
