package mix

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	InvoicePrefix  = "MIN"
	InvoiceVersion = 0

	referenceTagHash  = 0x00
	referenceTagIndex = 0x01
)

var (
	ErrEmptyEntries     = errors.New("empty entry list")
	ErrDuplicateAsset   = errors.New("duplicate asset id")
	ErrMalformedAmount  = errors.New("malformed amount")
	ErrInvalidReference = errors.New("invalid reference")
)

// Reference points an entry at a transaction it depends on: either a
// literal hash, or the ordinal of an earlier entry in the same
// invoice whose hash is not known until that entry is built.
type Reference struct {
	// Hash is set for tag 0x00 references.
	Hash []byte
	// Index is set for tag 0x01 references; always less than the
	// owning entry's position.
	Index   int
	IsIndex bool
}

// Entry is one requested payment inside an invoice.
type Entry struct {
	TraceID    string
	AssetID    string
	Amount     string
	Extra      []byte
	References []Reference
}

// Invoice is a multi-entry payment request addressed to one recipient.
type Invoice struct {
	Version   byte
	Recipient *Address
	Entries   []Entry
}

// ParseInvoice decodes the MIN string form, verifying the checksum and
// all structural rules. It never allocates entry state before the
// checksum passes.
func ParseInvoice(s string) (*Invoice, error) {
	if len(s) <= len(InvoicePrefix) || s[:len(InvoicePrefix)] != InvoicePrefix {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidLength, InvoicePrefix)
	}
	payload, err := base64.RawURLEncoding.DecodeString(s[len(InvoicePrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	// version, recipientLen, entryCount, checksum
	if len(payload) < 1+2+1+4 {
		return nil, ErrInvalidLength
	}
	body, sum := payload[:len(payload)-4], payload[len(payload)-4:]
	if !bytes.Equal(sum, checksum(InvoicePrefix, body)) {
		return nil, ErrInvalidChecksum
	}
	r := &reader{data: body}
	version, err := r.byte()
	if err != nil {
		return nil, err
	}
	if version != InvoiceVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
	recipientLen, err := r.uint16()
	if err != nil {
		return nil, err
	}
	recipientBytes, err := r.bytes(int(recipientLen))
	if err != nil {
		return nil, err
	}
	recipient, err := ParseAddress(string(recipientBytes))
	if err != nil {
		return nil, err
	}
	count, err := r.byte()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrEmptyEntries
	}
	inv := &Invoice{Version: version, Recipient: recipient}
	seenAssets := map[string]bool{}
	for i := 0; i < int(count); i++ {
		entry, err := r.entry(i)
		if err != nil {
			return nil, err
		}
		if seenAssets[entry.AssetID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAsset, entry.AssetID)
		}
		seenAssets[entry.AssetID] = true
		inv.Entries = append(inv.Entries, entry)
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidLength, r.remaining())
	}
	return inv, nil
}

// String renders the MIN form.
func (inv *Invoice) String() string {
	recipient := []byte(inv.Recipient.String())
	payload := []byte{inv.Version}
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(recipient)))
	payload = append(payload, recipient...)
	payload = append(payload, byte(len(inv.Entries)))
	for _, e := range inv.Entries {
		trace := uuid.MustParse(e.TraceID)
		asset := uuid.MustParse(e.AssetID)
		payload = append(payload, trace[:]...)
		payload = append(payload, asset[:]...)
		payload = append(payload, byte(len(e.Amount)))
		payload = append(payload, e.Amount...)
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(e.Extra)))
		payload = append(payload, e.Extra...)
		payload = append(payload, byte(len(e.References)))
		for _, ref := range e.References {
			if ref.IsIndex {
				payload = append(payload, referenceTagIndex, byte(ref.Index))
			} else {
				payload = append(payload, referenceTagHash)
				payload = append(payload, ref.Hash...)
			}
		}
	}
	payload = append(payload, checksum(InvoicePrefix, payload)...)
	return InvoicePrefix + base64.RawURLEncoding.EncodeToString(payload)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.off
}

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrInvalidLength
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) uint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrInvalidLength
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, ErrInvalidLength
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uuidString() (string, error) {
	raw, err := r.bytes(16)
	if err != nil {
		return "", err
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return "", ErrMalformedUUID
	}
	return id.String(), nil
}

// entry reads one entry; ordinal is its zero-based position, which
// bounds the index references it may carry.
func (r *reader) entry(ordinal int) (Entry, error) {
	var e Entry
	var err error
	if e.TraceID, err = r.uuidString(); err != nil {
		return e, err
	}
	if e.AssetID, err = r.uuidString(); err != nil {
		return e, err
	}
	amountLen, err := r.byte()
	if err != nil {
		return e, err
	}
	amountRaw, err := r.bytes(int(amountLen))
	if err != nil {
		return e, err
	}
	e.Amount = string(amountRaw)
	if a, aerr := decimal.NewFromString(e.Amount); aerr != nil || !a.IsPositive() {
		return e, fmt.Errorf("%w: %q", ErrMalformedAmount, e.Amount)
	}
	extraLen, err := r.uint16()
	if err != nil {
		return e, err
	}
	extra, err := r.bytes(int(extraLen))
	if err != nil {
		return e, err
	}
	e.Extra = append([]byte{}, extra...)
	refCount, err := r.byte()
	if err != nil {
		return e, err
	}
	for i := 0; i < int(refCount); i++ {
		tag, err := r.byte()
		if err != nil {
			return e, err
		}
		switch tag {
		case referenceTagHash:
			hash, err := r.bytes(32)
			if err != nil {
				return e, err
			}
			e.References = append(e.References, Reference{Hash: append([]byte{}, hash...)})
		case referenceTagIndex:
			index, err := r.byte()
			if err != nil {
				return e, err
			}
			if int(index) >= ordinal {
				return e, fmt.Errorf("%w: entry %d references entry %d", ErrInvalidReference, ordinal, index)
			}
			e.References = append(e.References, Reference{Index: int(index), IsIndex: true})
		default:
			return e, fmt.Errorf("%w: unknown tag %#x", ErrInvalidReference, tag)
		}
	}
	return e, nil
}
