package quickpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ChecksumHeader carries the callback body signature.
const ChecksumHeader = "Quickpay-Checksum-Sha256"

// Sign computes the hex HMAC-SHA256 of data keyed by the agreement
// private key. QuickPay signs every callback body this way.
func Sign(data []byte, privateKey string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the HMAC of data.
// The comparison is constant time.
func VerifySignature(data []byte, privateKey, signature string) bool {
	expected := Sign(data, privateKey)
	return hmac.Equal([]byte(expected), []byte(signature))
}
