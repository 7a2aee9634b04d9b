// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package licensecode

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var randomCodePattern = regexp.MustCompile(`^innodigi-[0-9A-F]{8}-[0-9A-F]{8}$`)

func TestGenerateCodeFormat(t *testing.T) {
	for range 50 {
		code := GenerateCode()
		assert.Regexp(t, randomCodePattern, code)
	}
}

func TestGenerateDeterministicCodeIsPure(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	first := GenerateDeterministicCode("alice@example.com", createdAt, "secret")
	second := GenerateDeterministicCode("alice@example.com", createdAt, "secret")

	assert.Equal(t, first, second)
	assert.Regexp(t, `^innodigi-[0-9A-F]{16}-[0-9A-F]{16}$`, first)
}

func TestGenerateDeterministicCodeIgnoresEmailCase(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)

	lower := GenerateDeterministicCode("alice@example.com", createdAt, "secret")
	upper := GenerateDeterministicCode("ALICE@EXAMPLE.COM", createdAt, "secret")

	assert.Equal(t, lower, upper)
}

func TestGenerateDeterministicCodeAvalanche(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	base := GenerateDeterministicCode("alice@example.com", createdAt, "secret")

	assert.NotEqual(t, base, GenerateDeterministicCode("bob@example.com", createdAt, "secret"))
	assert.NotEqual(t, base, GenerateDeterministicCode("alice@example.com", createdAt.Add(time.Millisecond), "secret"))
	assert.NotEqual(t, base, GenerateDeterministicCode("alice@example.com", createdAt, "other-secret"))
}

func TestVerifyDeterministicCodeRoundTrip(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	code := GenerateDeterministicCode("alice@example.com", createdAt, "secret")

	assert.True(t, VerifyDeterministicCode(code, "alice@example.com", createdAt, "secret"))
	assert.True(t, VerifyDeterministicCode(code, "Alice@Example.COM", createdAt, "secret"))

	assert.False(t, VerifyDeterministicCode(code, "bob@example.com", createdAt, "secret"))
	assert.False(t, VerifyDeterministicCode(code, "alice@example.com", createdAt.Add(time.Second), "secret"))
	assert.False(t, VerifyDeterministicCode(code, "alice@example.com", createdAt, "rotated"))
	assert.False(t, VerifyDeterministicCode("innodigi-AAAA1111-BBBB2222", "alice@example.com", createdAt, "secret"))
}

func TestIsDeterministicCode(t *testing.T) {
	createdAt := time.Now()
	assert.True(t, IsDeterministicCode(GenerateDeterministicCode("alice@example.com", createdAt, "secret")))
	assert.False(t, IsDeterministicCode(GenerateCode()))
	assert.False(t, IsDeterministicCode("not-a-code"))
}

func TestGenerateVerificationToken(t *testing.T) {
	token, err := GenerateVerificationToken()
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Regexp(t, `^[0-9a-f]{64}$`, token)

	other, err := GenerateVerificationToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestIsWildcardDomain(t *testing.T) {
	assert.True(t, IsWildcardDomain("*"))
	assert.True(t, IsWildcardDomain("  *  "))
	assert.False(t, IsWildcardDomain("example.com"))
	assert.False(t, IsWildcardDomain(""))
}
