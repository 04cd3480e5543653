package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strconv"
	"strings"
	"time"
)

const DefaultTolerance = 300 * time.Second

func computeHMAC(payload, secret []byte, hashFunc func() hash.Hash) []byte {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	return hmac.Equal(computeHMAC(payload, secret, hashFunc), expectedSig)
}

// verifyHexSHA256 compares a hex encoded HMAC-SHA256 in constant time.
func verifyHexSHA256(payload []byte, hexSig, secret string) bool {
	decoded, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(hexSig)))
	if err != nil || len(decoded) == 0 {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), sha256.New)
}

// SignSHA256 returns the hex HMAC-SHA256 of payload. Used by tests and by
// the billing service when it emits events.
func SignSHA256(payload []byte, secret string) string {
	return hex.EncodeToString(computeHMAC(payload, []byte(secret), sha256.New))
}

func parseUnix(s string) (time.Time, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	return time.Unix(n, 0), true
}

func withinTolerance(ts, now time.Time, tolerance time.Duration) bool {
	if tolerance <= 0 {
		return true
	}
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func formatUnix(n int64) string {
	return strconv.FormatInt(n, 10)
}
