// Package identity derives the rate-limit key for a request.
//
// The rate-limit key (network origin + client fingerprint) and the session
// token are deliberately different axes: rotating session tokens does not
// bypass throttling, and a client whose address changes mid-session still
// retrieves earlier results by token. Neither key is cryptographically
// verified; they are best-effort fingerprints only.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
)

const fingerprintHashLen = 8

// RealClientIP extracts the originating client address, preferring the first
// hop of X-Forwarded-For and normalizing IPv6-mapped IPv4 addresses.
func RealClientIP(r *http.Request) string {
	ip := ""
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip = strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}
	if ip == "" {
		return "unknown"
	}
	if strings.HasPrefix(ip, "::ffff:") {
		ip = strings.TrimPrefix(ip, "::ffff:")
	}
	return ip
}

// RateKey combines the client address with a short hash of the declared
// fingerprint. A missing fingerprint degrades to address-only keying; there
// are no error paths.
func RateKey(ip, fingerprint string) string {
	if fingerprint == "" {
		return ip
	}
	sum := sha1.Sum([]byte(fingerprint))
	return ip + ":" + hex.EncodeToString(sum[:])[:fingerprintHashLen]
}

// FromRequest resolves the rate-limit key for a request, reading the
// fingerprint from the X-Client-Fingerprint header when the caller did not
// supply one explicitly.
func FromRequest(r *http.Request, fingerprint string) string {
	if fingerprint == "" {
		fingerprint = r.Header.Get("X-Client-Fingerprint")
	}
	return RateKey(RealClientIP(r), fingerprint)
}
