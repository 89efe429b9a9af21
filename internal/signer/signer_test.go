package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestSignDeterministic(t *testing.T) {
	a, err := Sign("secret", "1700000000000")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b, _ := Sign("secret", "1700000000000")
	if a != b {
		t.Fatalf("signatures differ for identical input: %q vs %q", a, b)
	}
}

func TestSignMatchesCanonicalString(t *testing.T) {
	mac := hmac.New(sha256.New, []byte("k3y"))
	mac.Write([]byte("1700000000000GET/users/self/verify"))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	got, err := Sign("k3y", "1700000000000")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got != want {
		t.Fatalf("Sign = %q, want %q", got, want)
	}
}

func TestSignInputsChangeOutput(t *testing.T) {
	base, _ := Sign("secret", "1700000000000")
	other, _ := Sign("secret2", "1700000000000")
	if base == other {
		t.Fatal("changing the secret did not change the signature")
	}

	seen := make(map[string]int64, 1000)
	start := int64(1700000000000)
	for i := int64(0); i < 1000; i++ {
		sig, err := Sign("secret", strconv.FormatInt(start+i, 10))
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}
		if prev, ok := seen[sig]; ok {
			t.Fatalf("collision between timestamps %d and %d", prev, start+i)
		}
		seen[sig] = start + i
	}
}

func TestSignMissingSecret(t *testing.T) {
	if _, err := Sign("", "1700000000000"); !errors.Is(err, ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
}

func TestMustSignPanicsWithoutSecret(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustSign("", "1")
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	if got := Timestamp(ts); got != "1700000000000" {
		t.Fatalf("Timestamp = %q", got)
	}
}
