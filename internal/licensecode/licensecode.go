// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package licensecode generates and verifies license code strings.
//
// Codes come in two flavors. Random codes are drawn from crypto/rand and carry
// no structure; the UNIQUE constraint on licenses.code is the collision
// backstop, so generation itself never fails and never retries. Deterministic
// codes are derived from the customer email, the license creation time and the
// process-wide signing secret, which lets anyone holding the secret recompute
// a customer's code without storing it separately.
package licensecode

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// CodePrefix is the fixed leading block of every license code.
const CodePrefix = "innodigi"

const hexDigits = "0123456789ABCDEF"

func randomHexBlock(n int) string {
	bytes := make([]byte, n)
	rand.Read(bytes)

	var sb strings.Builder
	sb.Grow(n)
	for _, b := range bytes {
		sb.WriteByte(hexDigits[int(b)%16])
	}
	return sb.String()
}

// GenerateCode returns a random license code of the form
// "innodigi-XXXXXXXX-XXXXXXXX" where each X is an uppercase hex digit.
// Uniqueness is not guaranteed here; the database enforces it.
func GenerateCode() string {
	return fmt.Sprintf("%s-%s-%s", CodePrefix, randomHexBlock(8), randomHexBlock(8))
}

// GenerateDeterministicCode derives a license code from the customer email,
// the license creation time and the signing secret. The derivation is
// sha256(lowercase(email) + "-" + unixMillis + "-" + secret); the first 16 hex
// characters of the digest form block 1 and the next 16 form block 2, both
// uppercased.
func GenerateDeterministicCode(customerEmail string, createdAt time.Time, secret string) string {
	payload := fmt.Sprintf("%s-%d-%s", strings.ToLower(customerEmail), createdAt.UnixMilli(), secret)
	digest := sha256.Sum256([]byte(payload))
	hexDigest := strings.ToUpper(hex.EncodeToString(digest[:]))
	return fmt.Sprintf("%s-%s-%s", CodePrefix, hexDigest[:16], hexDigest[16:32])
}

// VerifyDeterministicCode recomputes the deterministic code and compares it to
// the candidate. The comparison is constant time so a wrong code cannot be
// distinguished from a wrong email by timing.
func VerifyDeterministicCode(code, customerEmail string, createdAt time.Time, secret string) bool {
	expected := GenerateDeterministicCode(customerEmail, createdAt, secret)
	return subtle.ConstantTimeCompare([]byte(code), []byte(expected)) == 1
}

// IsDeterministicCode reports whether a code has the shape of a
// deterministically derived one (16-character hex blocks instead of 8).
func IsDeterministicCode(code string) bool {
	parts := strings.Split(code, "-")
	return len(parts) == 3 && parts[0] == CodePrefix && len(parts[1]) == 16 && len(parts[2]) == 16
}

// GenerateVerificationToken returns a single-use email confirmation token:
// 32 bytes of cryptographically secure randomness, hex encoded. Unrelated to
// the license code format.
func GenerateVerificationToken() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// IsWildcardDomain reports whether the domain is the wildcard sentinel.
func IsWildcardDomain(domain string) bool {
	return strings.TrimSpace(domain) == "*"
}
