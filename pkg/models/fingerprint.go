package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the (IP, user agent) pair that identifies a request source.
// Two requests with the same pair are treated as the same source: they share
// one cache entry and one evaluation within the cache TTL.
type Fingerprint struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent"`
}

// NewFingerprint builds a fingerprint from raw request values.
func NewFingerprint(ip, userAgent string) Fingerprint {
	return Fingerprint{IP: ip, UserAgent: userAgent}
}

// Key returns the canonical fingerprint key: the hex-encoded SHA-256 of
// "ip|userAgent". Used as the cache key and as the log correlation id.
func (f Fingerprint) Key() string {
	hash := sha256.Sum256([]byte(f.IP + "|" + f.UserAgent))
	return hex.EncodeToString(hash[:])
}
