package mix

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func testRecipient(t *testing.T) *Address {
	t.Helper()
	addr, err := NewUserAddress("773e5e77-4107-45c2-b648-8fc722ed77f5")
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestInvoiceRoundTrip(t *testing.T) {
	hash := bytes.Repeat([]byte{0xab}, 32)
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{
			{
				TraceID: "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
				AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
				Amount:  "0.13370000",
				Extra:   []byte("first"),
				References: []Reference{
					{Hash: hash},
				},
			},
			{
				TraceID: "c9f44f4e-0b87-42b4-ae29-94c144b58eed",
				AssetID: "c6d0c728-2624-429b-8e0d-d9d19b6592fa",
				Amount:  "25",
				References: []Reference{
					{Index: 0, IsIndex: true},
				},
			},
		},
	}
	s := invoice.String()
	if s[:3] != "MIN" {
		t.Fatalf("bad prefix: %s", s)
	}
	decoded, err := ParseInvoice(s)
	if err != nil {
		t.Fatalf("ParseInvoice: %v", err)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(decoded.Entries))
	}
	first, second := decoded.Entries[0], decoded.Entries[1]
	if first.TraceID != invoice.Entries[0].TraceID || first.Amount != "0.13370000" {
		t.Fatalf("first entry mismatch: %+v", first)
	}
	if string(first.Extra) != "first" {
		t.Fatalf("first entry extra: %q", first.Extra)
	}
	if !bytes.Equal(first.References[0].Hash, hash) {
		t.Fatalf("first entry reference mismatch")
	}
	if !second.References[0].IsIndex || second.References[0].Index != 0 {
		t.Fatalf("second entry reference mismatch: %+v", second.References[0])
	}
	if decoded.Recipient.UserIDs[0] != "773e5e77-4107-45c2-b648-8fc722ed77f5" {
		t.Fatalf("recipient mismatch: %s", decoded.Recipient.UserIDs[0])
	}
}

func TestInvoiceMainnetRecipientRoundTrip(t *testing.T) {
	recipient, err := ParseAddress(mainnetTestAddress(0x11, 0x22))
	if err != nil {
		t.Fatal(err)
	}
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: recipient,
		Entries: []Entry{{
			TraceID: "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
			AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
			Amount:  "1",
		}},
	}
	decoded, err := ParseInvoice(invoice.String())
	if err != nil {
		t.Fatalf("ParseInvoice: %v", err)
	}
	if decoded.Recipient.Kind() != AddressKindMainnet {
		t.Fatalf("expected mainnet recipient, got %v", decoded.Recipient.Kind())
	}
	if decoded.Recipient.MainnetAddress != recipient.MainnetAddress {
		t.Fatalf("recipient mismatch: %s", decoded.Recipient.MainnetAddress)
	}
}

func TestInvoiceRejectsTamperedPayload(t *testing.T) {
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{{
			TraceID: "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
			AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
			Amount:  "1",
		}},
	}
	s := invoice.String()
	raw, err := base64.RawURLEncoding.DecodeString(s[3:])
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0x01
	tampered := "MIN" + base64.RawURLEncoding.EncodeToString(raw)
	if _, err := ParseInvoice(tampered); !errors.Is(err, ErrInvalidChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestInvoiceRejectsForwardReference(t *testing.T) {
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{
			{
				TraceID:    "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
				AssetID:    "43d61dcd-e413-450d-80b8-101d5e903357",
				Amount:     "1",
				References: []Reference{{Index: 1, IsIndex: true}},
			},
			{
				TraceID: "c9f44f4e-0b87-42b4-ae29-94c144b58eed",
				AssetID: "c6d0c728-2624-429b-8e0d-d9d19b6592fa",
				Amount:  "2",
			},
		},
	}
	if _, err := ParseInvoice(invoice.String()); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected reference error, got %v", err)
	}
}

func TestInvoiceRejectsSelfReference(t *testing.T) {
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{{
			TraceID:    "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
			AssetID:    "43d61dcd-e413-450d-80b8-101d5e903357",
			Amount:     "1",
			References: []Reference{{Index: 0, IsIndex: true}},
		}},
	}
	if _, err := ParseInvoice(invoice.String()); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected reference error, got %v", err)
	}
}

func TestInvoiceRejectsDuplicateAsset(t *testing.T) {
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{
			{
				TraceID: "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
				AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
				Amount:  "1",
			},
			{
				TraceID: "c9f44f4e-0b87-42b4-ae29-94c144b58eed",
				AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
				Amount:  "2",
			},
		},
	}
	if _, err := ParseInvoice(invoice.String()); !errors.Is(err, ErrDuplicateAsset) {
		t.Fatalf("expected duplicate asset error, got %v", err)
	}
}

func TestInvoiceRejectsEmptyEntries(t *testing.T) {
	invoice := &Invoice{Version: InvoiceVersion, Recipient: testRecipient(t)}
	if _, err := ParseInvoice(invoice.String()); !errors.Is(err, ErrEmptyEntries) {
		t.Fatalf("expected empty entries error, got %v", err)
	}
}

func TestInvoiceRejectsMalformedAmount(t *testing.T) {
	invoice := &Invoice{
		Version:   InvoiceVersion,
		Recipient: testRecipient(t),
		Entries: []Entry{{
			TraceID: "a84a4a8b-8246-4a71-a093-4eb1ab659dd2",
			AssetID: "43d61dcd-e413-450d-80b8-101d5e903357",
			Amount:  "-5",
		}},
	}
	if _, err := ParseInvoice(invoice.String()); !errors.Is(err, ErrMalformedAmount) {
		t.Fatalf("expected amount error, got %v", err)
	}
}
