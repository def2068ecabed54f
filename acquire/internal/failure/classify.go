// Package failure classifies acquisition errors so every decision point can
// record why a source was abandoned.
package failure

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// Class categorizes an acquisition error.
type Class string

const (
	ClassNone      Class = ""
	ClassTemporary Class = "temporary" // 5xx, timeout, connection refused
	ClassQuota     Class = "quota"     // credits exhausted on the search API
	ClassRateLimit Class = "rate_limit"
	ClassAuth      Class = "auth"      // 401, 403
	ClassNotFound  Class = "not_found" // 404, 410
	ClassParse     Class = "parse"     // invalid JSON, corrupt gzip, bad CSV
	ClassUnknown   Class = "unknown"
)

// Classify determines the class of an error. statusCode may be 0 when the
// failure happened below HTTP; it is then extracted from the message if present.
func Classify(statusCode int, err error) Class {
	if err == nil && statusCode < 400 {
		return ClassNone
	}
	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	if strings.Contains(msg, "query credits") {
		return ClassQuota
	}
	if statusCode == 0 {
		statusCode = ExtractStatusCode(msg)
	}

	switch {
	case statusCode == 429:
		return ClassRateLimit
	case statusCode == 401 || statusCode == 403:
		return ClassAuth
	case statusCode == 404 || statusCode == 410:
		return ClassNotFound
	case statusCode >= 500 && statusCode < 600:
		return ClassTemporary
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTemporary
	}
	if isParseError(msg) {
		return ClassParse
	}
	if isNetworkError(msg) {
		return ClassTemporary
	}
	return ClassUnknown
}

// ExtractStatusCode extracts an HTTP status code from an error message.
// Returns 0 if no code found. Handles "http 503", "http: 404", "status 429".
func ExtractStatusCode(errMsg string) int {
	msg := strings.ToLower(errMsg)
	for _, prefix := range []string{"http ", "http: ", "status ", "status: "} {
		idx := strings.Index(msg, prefix)
		if idx < 0 {
			continue
		}
		numStr := strings.TrimSpace(msg[idx+len(prefix):])
		if sp := strings.IndexAny(numStr, " :,"); sp > 0 {
			numStr = numStr[:sp]
		}
		if code, err := strconv.Atoi(numStr); err == nil && code >= 100 && code < 600 {
			return code
		}
	}
	return 0
}

func isParseError(msg string) bool {
	return strings.Contains(msg, "json") && (strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid") || strings.Contains(msg, "unexpected") || strings.Contains(msg, "decode")) ||
		strings.Contains(msg, "gzip") ||
		strings.Contains(msg, "csv") && strings.Contains(msg, "parse")
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof") ||
		strings.Contains(msg, "tls handshake")
}
