// Package signer produces the channel-authentication signature for the
// private feed.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// verifyPath is appended to the timestamp to build the string that gets
// signed.
const verifyPath = "GET/users/self/verify"

// ErrMissingSecret is returned when Sign is called without a secret.
var ErrMissingSecret = errors.New("signer: api secret is required")

// Sign returns base64(HMAC-SHA256(secret, timestamp + "GET/users/self/verify")).
// The result depends only on its inputs.
func Sign(secret, timestampMs string) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestampMs + verifyPath))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// MustSign is Sign for callers that have already checked the credential. A
// missing secret here is a programming error.
func MustSign(secret, timestampMs string) string {
	sig, err := Sign(secret, timestampMs)
	if err != nil {
		panic(err)
	}
	return sig
}

// Timestamp formats t as milliseconds since the epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
