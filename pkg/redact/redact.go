// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package redact provides utilities for redacting sensitive information from
// URLs, paths and errors before they reach the logs.
package redact

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// sensitiveParams lists query parameter names that should be redacted (case-insensitive).
var sensitiveParams = []string{"apikey", "api_key", "token", "password", "secret"}

// sensitiveParamRegex matches sensitive query parameters in a string.
// Used as a fallback when URL parsing fails or for error message redaction.
var sensitiveParamRegex = regexp.MustCompile(`(?i)(apikey|api_key|token|password|secret)=([^&\s]*)`)

// tokenPathRegex matches single-use token segments in verification and reset
// paths.
var tokenPathRegex = regexp.MustCompile(`(/verify-email/|/verify-license/|/reset-password/)([^/?\s]+)`)

// URLString redacts sensitive query parameter values in a URL string.
// Also redacts passwords in userinfo (user:pass@host) and token path
// segments. If parsing fails, a regex fallback performs the same redaction.
func URLString(raw string) string {
	if raw == "" {
		return raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return String(raw)
	}

	modified := false

	if parsed.User != nil {
		if _, hasPass := parsed.User.Password(); hasPass {
			parsed.User = url.UserPassword(parsed.User.Username(), "REDACTED")
			modified = true
		}
	}

	if newPath := tokenPathRegex.ReplaceAllString(parsed.Path, "${1}REDACTED"); newPath != parsed.Path {
		parsed.Path = newPath
		parsed.RawPath = "" // force re-encoding
		modified = true
	}

	query := parsed.Query()
	for _, param := range sensitiveParams {
		// url.Values keys are case-sensitive, check all variants
		for key := range query {
			if strings.EqualFold(key, param) {
				query[key] = []string{"REDACTED"}
				modified = true
			}
		}
	}

	if !modified {
		return raw
	}

	parsed.RawQuery = query.Encode()
	return parsed.String()
}

// URLError wraps a *url.Error (if present) with a redacted URL. Otherwise
// returns err unchanged.
func URLError(err error) error {
	if err == nil {
		return nil
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{
			Op:  urlErr.Op,
			URL: URLString(urlErr.URL),
			Err: urlErr.Err,
		}
	}

	return err
}

// userinfoPasswordRegex matches user:password@ patterns in URLs
var userinfoPasswordRegex = regexp.MustCompile(`(://[^/:@\s]+):([^@\s]+)@`)

// String redacts sensitive query parameter values, userinfo passwords and
// token path segments in any string using regexes. Useful for sanitizing
// error messages that may contain URLs or URL fragments.
func String(s string) string {
	if s == "" {
		return s
	}
	result := sensitiveParamRegex.ReplaceAllString(s, "${1}=REDACTED")
	result = userinfoPasswordRegex.ReplaceAllString(result, "${1}:REDACTED@")
	result = tokenPathRegex.ReplaceAllString(result, "${1}REDACTED")
	return result
}

// TokenPath redacts single-use token segments from request paths.
// /verify-email/{token} -> /verify-email/REDACTED
func TokenPath(path string) string {
	if path == "" {
		return path
	}
	return tokenPathRegex.ReplaceAllString(path, "${1}REDACTED")
}

// BasicAuthUser redacts the password from a basic auth credential string.
// "user:password" -> "user:REDACTED"
func BasicAuthUser(cred string) string {
	if cred == "" {
		return cred
	}
	idx := strings.Index(cred, ":")
	if idx < 0 {
		return cred
	}
	return cred[:idx+1] + "REDACTED"
}
