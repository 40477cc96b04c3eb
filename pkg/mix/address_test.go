package mix

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
)

func TestUserAddressRoundTrip(t *testing.T) {
	addr, err := NewUserAddress("773e5e77-4107-45c2-b648-8fc722ed77f5")
	if err != nil {
		t.Fatalf("NewUserAddress: %v", err)
	}
	s := addr.String()
	if s[:3] != "MIX" {
		t.Fatalf("bad prefix: %s", s)
	}
	decoded, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if decoded.Kind() != AddressKindUser {
		t.Fatalf("expected user kind, got %v", decoded.Kind())
	}
	if decoded.UserIDs[0] != "773e5e77-4107-45c2-b648-8fc722ed77f5" {
		t.Fatalf("wrong user ID: %s", decoded.UserIDs[0])
	}
	if decoded.Threshold != 1 {
		t.Fatalf("wrong threshold: %d", decoded.Threshold)
	}
}

func TestMultisigAddressSortsMembers(t *testing.T) {
	members := []string{
		"cc73e285-053a-4797-ba82-e4e5b71fed4f",
		"067780e0-d026-4088-a0cd-54b1e7c87d6d",
		"773e5e77-4107-45c2-b648-8fc722ed77f5",
	}
	addr, err := NewMultisigAddress(members, 2)
	if err != nil {
		t.Fatalf("NewMultisigAddress: %v", err)
	}
	decoded, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if decoded.Kind() != AddressKindMultisig {
		t.Fatalf("expected multisig kind")
	}
	if decoded.Threshold != 2 {
		t.Fatalf("wrong threshold: %d", decoded.Threshold)
	}
	want := []string{
		"067780e0-d026-4088-a0cd-54b1e7c87d6d",
		"773e5e77-4107-45c2-b648-8fc722ed77f5",
		"cc73e285-053a-4797-ba82-e4e5b71fed4f",
	}
	for i, id := range want {
		if decoded.UserIDs[i] != id {
			t.Fatalf("member %d: got %s, want %s", i, decoded.UserIDs[i], id)
		}
	}
}

// mainnetTestAddress encodes a MIX address around a 64-byte key
// member with the given spend and view byte fill.
func mainnetTestAddress(spendFill, viewFill byte) string {
	payload := []byte{AddressVersion, 1, 1}
	payload = append(payload, bytes.Repeat([]byte{spendFill}, 32)...)
	payload = append(payload, bytes.Repeat([]byte{viewFill}, 32)...)
	payload = append(payload, checksum(AddressPrefix, payload)...)
	return AddressPrefix + base58.Encode(payload)
}

func TestMainnetAddressRoundTrip(t *testing.T) {
	s := mainnetTestAddress(0x11, 0x22)
	addr, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if addr.Kind() != AddressKindMainnet {
		t.Fatalf("expected mainnet kind, got %v", addr.Kind())
	}
	if addr.MainnetAddress[:3] != "XIN" {
		t.Fatalf("bad kernel address: %s", addr.MainnetAddress)
	}
	if got := addr.String(); got != s {
		t.Fatalf("re-encoded address %s, want %s", got, s)
	}
	again, err := ParseAddress(addr.String())
	if err != nil {
		t.Fatalf("re-parse: %v", err)
	}
	if again.MainnetAddress != addr.MainnetAddress {
		t.Fatalf("kernel address changed across the round trip")
	}
}

func TestAddressRejectsTamperedChecksum(t *testing.T) {
	addr, _ := NewUserAddress("773e5e77-4107-45c2-b648-8fc722ed77f5")
	s := addr.String()
	raw, err := base58.Decode(s[3:])
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xff
	_, err = ParseAddress("MIX" + base58.Encode(raw))
	if !errors.Is(err, ErrInvalidChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestAddressRejectsUnknownVersion(t *testing.T) {
	addr, _ := NewUserAddress("773e5e77-4107-45c2-b648-8fc722ed77f5")
	// rebuild the payload with a bad version and a valid checksum
	bad := &Address{Version: 3, Threshold: 1, UserIDs: addr.UserIDs}
	_, err := ParseAddress(bad.String())
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestAddressRejectsWrongPrefix(t *testing.T) {
	if _, err := ParseAddress("XYZabc"); err == nil {
		t.Fatal("expected error for wrong prefix")
	}
	if _, err := ParseAddress("MI"); err == nil {
		t.Fatal("expected error for short string")
	}
}
