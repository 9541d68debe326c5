// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package snapsync

import "fmt"

// ValidateSyncRequest checks the top-level inputs. maxEntities bounds users+tasks
// (0 = unlimited).
func ValidateSyncRequest(req *SyncRequest, maxEntities int) error {
	if req == nil {
		return &ValidationError{Fields: []string{"clientId", "timestamp", "data"}, Err: ErrMissingRequiredFields}
	}

	var missing []string
	if req.ClientID == "" {
		missing = append(missing, "clientId")
	}
	if req.Timestamp == "" {
		missing = append(missing, "timestamp")
	}
	if req.Data == nil {
		missing = append(missing, "data")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing, Err: ErrMissingRequiredFields}
	}

	if maxEntities > 0 {
		if n := len(req.Data.Users) + len(req.Data.Tasks); n > maxEntities {
			return &ValidationError{
				Fields: []string{fmt.Sprintf("data (entities=%d limit=%d)", n, maxEntities)},
				Err:    ErrSnapshotTooLarge,
			}
		}
	}
	return nil
}
