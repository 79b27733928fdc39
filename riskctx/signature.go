package riskctx

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// SignatureHeader carries the edge-to-origin path signature.
const SignatureHeader = "X-Step-Up-Signature"

const signatureVersion = "v1"

// SignPath returns base64(HMAC-SHA256(key, ts + ":" + path)).
func SignPath(key []byte, path, ts string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(ts))
	mac.Write([]byte{':'})
	mac.Write([]byte(path))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignatureValue formats a header value for path at ts.
func SignatureValue(key []byte, path, ts string) string {
	return signatureVersion + " " + ts + " " + SignPath(key, path, ts)
}

// VerifyPathSignature checks a "v1 <ts> <b64>" header value against path.
// The timestamp is bound into the MAC but its freshness is the caller's
// concern.
func VerifyPathSignature(key []byte, value, path string) bool {
	if len(key) == 0 || value == "" {
		return false
	}
	parts := strings.Split(value, " ")
	if len(parts) != 3 || parts[0] != signatureVersion || parts[1] == "" || parts[2] == "" {
		return false
	}
	got, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(parts[1]))
	mac.Write([]byte{':'})
	mac.Write([]byte(path))
	return hmac.Equal(got, mac.Sum(nil))
}
