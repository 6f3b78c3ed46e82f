package crypto

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPrincipalBech32RoundTrip(t *testing.T) {
	addr := common.BytesToAddress(bytes.Repeat([]byte{0x42}, 20))
	encoded := FormatPrincipal(addr)
	if !strings.HasPrefix(encoded, "cf1") {
		t.Fatalf("expected cf1 prefix, got %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse bech32: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch: %s != %s", parsed.Hex(), addr.Hex())
	}
}

func TestParseAddressHex(t *testing.T) {
	addr := common.BytesToAddress(bytes.Repeat([]byte{0x07}, 20))
	parsed, err := ParseAddress(" " + addr.Hex() + " ")
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if parsed != addr {
		t.Fatalf("hex mismatch")
	}
}

func TestParseAddressRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "",
		"zero":      "0x0000000000000000000000000000000000000000",
		"short hex": "0x1234",
		"garbage":   "not-an-address",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseAddress(input); err == nil {
				t.Fatalf("expected %q to be rejected", input)
			}
		})
	}
}

func TestNewAddressLength(t *testing.T) {
	if _, err := NewAddress(PrincipalPrefix, []byte{1, 2, 3}); err == nil {
		t.Fatalf("expected short address to be rejected")
	}
	asset := FormatAsset(common.BytesToAddress([]byte{0x01}))
	if !strings.HasPrefix(asset, "cfa1") {
		t.Fatalf("expected asset prefix, got %s", asset)
	}
}
