// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backend

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// secret holds a credential sealed in an encrypted enclave. A nil secret
// means the credential is not configured.
type secret struct {
	enclave *memguard.Enclave
}

// seal moves value into an enclave. Empty values yield nil.
func seal(value string) *secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes the slice it is given.
	enclave := memguard.NewEnclave([]byte(value))
	if enclave == nil {
		return nil
	}
	return &secret{enclave: enclave}
}

// reveal opens the enclave just long enough to copy the value out.
func (s *secret) reveal() (string, error) {
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open credential enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}
