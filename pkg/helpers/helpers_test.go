package helpers

import (
	"strings"
	"testing"
)

func TestBytesEqual(t *testing.T) {
	tests := []struct {
		name string
		a    []byte
		b    []byte
		want bool
	}{
		{"equal", []byte{1, 2, 3}, []byte{1, 2, 3}, true},
		{"not equal", []byte{1, 2, 3}, []byte{1, 2, 4}, false},
		{"different length", []byte{1, 2}, []byte{1, 2, 3}, false},
		{"empty equal", []byte{}, []byte{}, true},
		{"nil equal", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BytesEqual(tt.a, tt.b)
			if got != tt.want {
				t.Errorf("BytesEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHexRoundtrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0x00},
		{0xde, 0xad, 0xbe, 0xef},
		{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}

	for _, in := range inputs {
		s := BytesToHex(in)
		if !strings.HasPrefix(s, "0x") {
			t.Fatalf("BytesToHex(%v) = %q, want 0x prefix", in, s)
		}
		out, err := HexToBytes(s)
		if err != nil {
			t.Fatalf("HexToBytes(%q) failed: %v", s, err)
		}
		if !BytesEqual(in, out) {
			t.Errorf("roundtrip failed: %v -> %s -> %v", in, s, out)
		}
	}
}

func TestHexToBytesRejectsInvalid(t *testing.T) {
	if _, err := HexToBytes("0xzz"); err == nil {
		t.Error("expected error for invalid hex, got nil")
	}
}

func TestConstantTimeCompare(t *testing.T) {
	if !ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 3}) {
		t.Error("expected equal slices to compare true")
	}
	if ConstantTimeCompare([]byte{1, 2, 3}, []byte{1, 2, 4}) {
		t.Error("expected differing slices to compare false")
	}
}

func TestGenerateSecureRandom(t *testing.T) {
	a, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	b, err := GenerateSecureRandom(32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if BytesEqual(a, b) {
		t.Error("two independent random draws collided")
	}
}
