package identity

import (
	"strings"
	"testing"
)

const testPhrase = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestDeriveKeypairIsDeterministic(t *testing.T) {
	priv1, wallet1, err := DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	priv2, wallet2, err := DeriveKeypair("relaymem", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}

	if string(priv1.Serialize()) != string(priv2.Serialize()) {
		t.Error("expected identical private keys for identical phrase")
	}
	if wallet1 != wallet2 {
		t.Errorf("wallet id mismatch: %s != %s", wallet1, wallet2)
	}
	if !strings.HasPrefix(wallet1, "0x") {
		t.Errorf("wallet id %q missing 0x prefix", wallet1)
	}
	if len(wallet1) != 42 {
		t.Errorf("wallet id %q has length %d, want 42", wallet1, len(wallet1))
	}
	if wallet1 != strings.ToLower(wallet1) {
		t.Errorf("wallet id %q is not lowercase", wallet1)
	}
}

func TestDeriveKeypairDiffersAcrossAppNames(t *testing.T) {
	_, walletA, err := DeriveKeypair("app-a", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	_, walletB, err := DeriveKeypair("app-b", testPhrase)
	if err != nil {
		t.Fatalf("DeriveKeypair: %v", err)
	}
	if walletA == walletB {
		t.Error("expected different wallet ids for different app salts")
	}
}

func TestDeriveSymKeyIsDeterministic(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}

	k1 := DeriveSymKey(testPhrase, salt)
	k2 := DeriveSymKey(strings.ToUpper(testPhrase), salt)

	if len(k1) != 32 {
		t.Fatalf("len(k1) = %d, want 32", len(k1))
	}
	if string(k1) != string(k2) {
		t.Error("expected case-insensitive phrase normalization to yield identical key")
	}
}

func TestNewSaltIsRandom(t *testing.T) {
	a, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	b, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if string(a) == string(b) {
		t.Error("two independent salts collided")
	}
	if len(a) != SaltLen {
		t.Errorf("len(salt) = %d, want %d", len(a), SaltLen)
	}
}

func TestNewRejectsWrongSaltLength(t *testing.T) {
	if _, err := New("relaymem", testPhrase, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short salt")
	}
}

func TestNewRoundtrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	id1, err := New("relaymem", testPhrase, salt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id2, err := New("relaymem", testPhrase, salt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if id1.WalletID != id2.WalletID {
		t.Error("expected identical wallet ids across re-derivation")
	}
	if string(id1.SymKey) != string(id2.SymKey) {
		t.Error("expected identical symmetric keys across re-derivation")
	}
}
