/**
 * @description
 * This package validates the authenticity of inbound webhook deliveries using
 * HMAC-SHA256 over the raw request body. Each vendor has its own signature
 * encoding:
 *
 *   - The payment processor sends "t=<unix_ts>,v1=<hex>[,v1=<hex>...]" and the
 *     MAC is computed over "{timestamp}.{rawBody}". Multiple v1 candidates may
 *     be present during secret rotation. Deliveries older than the tolerance
 *     window are rejected to defend against replay of captured requests.
 *   - The identity vendor sends either the same "t=,v1=" encoding or a legacy
 *     bare hex digest computed over the raw body alone.
 *
 * Verification must operate on the raw, unparsed body: re-serializing the JSON
 * before verifying would silently break the byte-exact MAC.
 *
 * All comparisons are constant-time. Malformed headers, missing secrets, and
 * unparseable timestamps are verification failures, never panics.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: MAC computation and encoding.
 */
package webhooksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// DefaultTolerance is the maximum accepted age of a signed timestamp.
const DefaultTolerance = 300 * time.Second

// VerifyStripe validates a payment-processor signature header against the raw
// payload using the default replay tolerance.
func VerifyStripe(payload []byte, header, secret string) bool {
	return verifyTimestamped(payload, header, secret, time.Now(), DefaultTolerance)
}

// VerifyPersona validates an identity-vendor signature header against the raw
// payload. Both the timestamped encoding and the legacy bare hex digest over
// the raw body are accepted.
func VerifyPersona(payload []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if strings.Contains(header, "t=") {
		return verifyTimestamped(payload, header, secret, time.Now(), DefaultTolerance)
	}

	expected := computeHMAC(payload, secret)
	provided, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, expected)
}

// verifyTimestamped checks a "t=<ts>,v1=<hex>" style header. The MAC covers
// "{timestamp}.{payload}" so the timestamp cannot be swapped out of a captured
// request.
func verifyTimestamped(payload []byte, header, secret string, now time.Time, tolerance time.Duration) bool {
	if secret == "" {
		return false
	}

	timestamp, candidates := parseSignatureHeader(header)
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return false
	}

	signed := make([]byte, 0, len(timestamp)+1+len(payload))
	signed = append(signed, timestamp...)
	signed = append(signed, '.')
	signed = append(signed, payload...)
	expected := computeHMAC(signed, secret)

	for _, candidate := range candidates {
		provided, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(provided, expected) {
			return true
		}
	}
	return false
}

// parseSignatureHeader splits "t=...,v1=...,v1=..." into the timestamp and the
// candidate signatures. Unknown scheme prefixes are ignored for forward
// compatibility; duplicate t fields keep the first value.
func parseSignatureHeader(header string) (timestamp string, candidates []string) {
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		if !found || value == "" {
			continue
		}
		switch key {
		case "t":
			if timestamp == "" {
				timestamp = value
			}
		case "v1":
			candidates = append(candidates, value)
		}
	}
	return timestamp, candidates
}

func computeHMAC(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
