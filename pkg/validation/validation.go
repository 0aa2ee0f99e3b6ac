// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package validation provides centralized input validation for the ceremony
// API. The HTTP handlers enforce these validations on caller-supplied
// identifiers before they reach storage or the logs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// usernamePattern matches safe account names. Email-style usernames are
// the common case, so the charset covers local parts and domains.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9@._+\-]+$`)

// ValidateUsername validates an account identifier.
// Prevents injection and storage abuse by:
// - Rejecting empty strings
// - Rejecting null bytes
// - Rejecting control characters
// - Allowing only safe characters
// - Enforcing length limits
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("username cannot be empty")
	}

	// Check for null bytes (can bypass some downstream checks)
	if strings.Contains(username, "\x00") {
		return fmt.Errorf("username contains null byte")
	}

	// Check length before other validations (prevent ReDoS)
	if len(username) > 255 {
		return fmt.Errorf("username too long (max 255 characters)")
	}

	// Check for control characters
	for _, r := range username {
		if r < 32 || r == 127 {
			return fmt.Errorf("username contains control characters")
		}
	}

	// Only allow safe characters
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (allowed: a-z, A-Z, 0-9, @, ., _, +, -)")
	}

	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	// Remove control characters and null bytes
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	// Limit length to prevent log flooding
	if len(s) > 1000 {
		s = s[:1000] + "...[truncated]"
	}

	return s
}
