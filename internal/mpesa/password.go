package mpesa

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"time"
)

const timestampLayout = "20060102150405"

// stkPassword derives the time-boxed password the push and query
// endpoints require: base64(shortcode + passkey + timestamp).
func stkPassword(shortCode, passkey string, now time.Time) (password, timestamp string) {
	timestamp = now.Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
	return password, timestamp
}

// CallbackSignature computes the HMAC-SHA256 signature of a callback
// body with the passkey as the shared secret.
func CallbackSignature(passkey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(passkey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackSignature compares a received signature in constant
// time.
func VerifyCallbackSignature(passkey string, body []byte, received string) bool {
	expected := CallbackSignature(passkey, body)
	return hmac.Equal([]byte(expected), []byte(received))
}
