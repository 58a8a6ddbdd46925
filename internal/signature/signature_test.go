package signature

import (
	"testing"

	"github.com/relaymem/syncengine/internal/identity"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSignVerifyRoundtrip(t *testing.T) {
	priv, wallet, err := identity.DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}

	data := []byte("a shard payload")
	sig := Sign(priv, data)

	if !Verify(data, sig, wallet) {
		t.Error("expected signature to verify against the signing wallet")
	}
}

func TestVerifyRejectsWrongData(t *testing.T) {
	priv, wallet, err := identity.DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}

	sig := Sign(priv, []byte("original"))
	if Verify([]byte("tampered"), sig, wallet) {
		t.Error("expected verification to fail for different data")
	}
}

func TestVerifyRejectsWrongWallet(t *testing.T) {
	priv, _, err := identity.DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}

	data := []byte("payload")
	sig := Sign(priv, data)
	if Verify(data, sig, "0x0000000000000000000000000000000000000000") {
		t.Error("expected verification to fail for wrong wallet id")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	if Verify([]byte("data"), "not-hex", "0xabc") {
		t.Error("expected malformed signature to fail verification, not error")
	}
	if Verify([]byte("data"), "0x1234", "0xabc") {
		t.Error("expected short signature to fail verification")
	}
}

func TestVerifyIsCaseInsensitive(t *testing.T) {
	priv, wallet, err := identity.DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}

	data := []byte("payload")
	sig := Sign(priv, data)

	upper := "0x"
	for _, c := range wallet[2:] {
		if c >= 'a' && c <= 'f' {
			upper += string(c - 32)
		} else {
			upper += string(c)
		}
	}

	if !Verify(data, sig, upper) {
		t.Error("expected case-insensitive wallet comparison to verify")
	}
}
