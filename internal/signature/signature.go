// Package signature computes the Selcom request digest.
//
// The signed string is "timestamp=<ts>" followed by "&<field>=<value>" for every
// field in the order it appears in the payload. The receiver rebuilds the same
// string from the Signed-Fields header, so field order is part of the protocol.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

const (
	// Method is sent as the Digest-Method header.
	Method = "HS256"
	// TimestampLayout is the ISO-8601 layout the provider accepts.
	TimestampLayout = "2006-01-02T15:04:05-07:00"
)

// Canonical builds the string that is signed.
func Canonical(timestamp string, fields []string, values map[string]string) string {
	var b strings.Builder
	b.WriteString("timestamp=")
	b.WriteString(timestamp)
	for _, field := range fields {
		b.WriteString("&")
		b.WriteString(field)
		b.WriteString("=")
		b.WriteString(values[field])
	}
	return b.String()
}

// Sign returns base64(HMAC-SHA256(secret, Canonical(...))).
// An empty field list is valid and signs the timestamp alone.
func Sign(timestamp string, fields []string, values map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(Canonical(timestamp, fields, values)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignedFields is the Signed-Fields header value.
func SignedFields(fields []string) string {
	return strings.Join(fields, ",")
}

// ParseSignedFields splits a Signed-Fields header back into field names.
func ParseSignedFields(header string) []string {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Verify recomputes the digest and compares it in constant time.
func Verify(digest, timestamp string, fields []string, values map[string]string, secret string) bool {
	expected := Sign(timestamp, fields, values, secret)
	return hmac.Equal([]byte(expected), []byte(digest))
}
