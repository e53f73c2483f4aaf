/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth implements the three credential kinds spec.md §7 and §4.1
// describe: the shared internal secret (X-Scm-Secret), HMAC-signed
// webhooks (X-Hub-Signature-256), and OAuth browser sessions.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// ValidateHMAC verifies an X-Hub-Signature-256 header value against the
// payload using a constant-time comparison, per spec.md §4.1 and the
// "HMAC constant-time" testable property in §8.
func ValidateHMAC(payload []byte, signature, secret string) error {
	if secret == "" {
		return fmt.Errorf("HMAC secret is empty")
	}

	if !strings.HasPrefix(signature, "sha256=") {
		return fmt.Errorf("HMAC validation failed")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return fmt.Errorf("HMAC validation failed")
	}
	return nil
}
