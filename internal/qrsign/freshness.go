package qrsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// FreshnessToken calcule la preuve de fraîcheur (sig) associée à un code
// d'attestation et un horodatage de scan. Couche secondaire optionnelle,
// jamais un substitut au HMAC de la charge utile.
func FreshnessToken(code string, ts time.Time, key []byte) string {
	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s|%d", code, ts.Unix())
	return hex.EncodeToString(mac.Sum(nil))
}

// CheckFreshness valide la paire sig/ts reçue en query string. Un ts
// illisible, trop ancien ou une signature divergente invalident la preuve.
func CheckFreshness(code, sig, ts string, key []byte, maxAge time.Duration) bool {
	if sig == "" || ts == "" {
		return false
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	at := time.Unix(unix, 0)
	if time.Since(at) > maxAge || time.Until(at) > time.Minute {
		return false
	}
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	got, _ := hex.DecodeString(FreshnessToken(code, at, key))
	return hmac.Equal(got, want)
}
