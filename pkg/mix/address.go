// Package mix implements the compact payment address and invoice
// encodings used on the wire and in QR codes.
package mix

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const (
	AddressPrefix  = "MIX"
	AddressVersion = 2

	MainnetPrefix = "XIN"
)

var (
	ErrInvalidLength   = errors.New("invalid payload length")
	ErrInvalidChecksum = errors.New("invalid checksum")
	ErrUnknownVersion  = errors.New("unknown version")
	ErrMalformedUUID   = errors.New("malformed uuid")
)

// AddressKind discriminates what a decoded address pays to.
type AddressKind int

const (
	AddressKindUser AddressKind = iota
	AddressKindMultisig
	AddressKindMainnet
)

// Address is a decoded payment address: a single user, a threshold
// group of users, or a mainnet kernel address.
type Address struct {
	Version   byte
	Threshold byte
	// UserIDs are UUID members, sorted ascending. Empty for mainnet
	// addresses.
	UserIDs []string
	// MainnetAddress is the XIN form of a single 64-byte key member.
	MainnetAddress string
}

func (a *Address) Kind() AddressKind {
	switch {
	case a.MainnetAddress != "":
		return AddressKindMainnet
	case len(a.UserIDs) == 1:
		return AddressKindUser
	default:
		return AddressKindMultisig
	}
}

// checksum is the first four bytes of SHA3-256 over the domain prefix
// followed by the payload.
func checksum(prefix string, payload []byte) []byte {
	h := sha3.Sum256(append([]byte(prefix), payload...))
	return h[:4]
}

// mainnetAddress renders a 32-byte spend key and 32-byte view key in
// the XIN string form.
func mainnetAddress(spend, view []byte) string {
	payload := append(append([]byte{}, spend...), view...)
	payload = append(payload, checksum(MainnetPrefix, payload)...)
	return MainnetPrefix + base58.Encode(payload)
}

// mainnetMember recovers the 64 raw key bytes a XIN form encodes. The
// form only ever comes from mainnetAddress, so malformed input panics
// the way uuid.MustParse does.
func mainnetMember(s string) []byte {
	data, err := base58.Decode(s[len(MainnetPrefix):])
	if err != nil || len(data) != 64+4 {
		panic("malformed mainnet address " + s)
	}
	return data[:64]
}

// ParseAddress decodes the MIX string form. The member section must
// be exactly 16 bytes per UUID member or 64 bytes per key member;
// anything else fails with ErrInvalidLength.
func ParseAddress(s string) (*Address, error) {
	if len(s) <= len(AddressPrefix) || s[:len(AddressPrefix)] != AddressPrefix {
		return nil, fmt.Errorf("%w: missing %s prefix", ErrInvalidLength, AddressPrefix)
	}
	data, err := base58.Decode(s[len(AddressPrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLength, err)
	}
	// version, threshold, member count, at least one 16-byte member,
	// 4-byte checksum
	if len(data) < 3+16+4 {
		return nil, ErrInvalidLength
	}
	payload, sum := data[:len(data)-4], data[len(data)-4:]
	if !bytes.Equal(sum, checksum(AddressPrefix, payload)) {
		return nil, ErrInvalidChecksum
	}
	if payload[0] != AddressVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, payload[0])
	}
	addr := &Address{Version: payload[0], Threshold: payload[1]}
	count := int(payload[2])
	if count == 0 {
		return nil, ErrInvalidLength
	}
	members := payload[3:]
	switch len(members) {
	case count * 16:
		for i := 0; i < count; i++ {
			id, err := uuid.FromBytes(members[i*16 : i*16+16])
			if err != nil {
				return nil, ErrMalformedUUID
			}
			addr.UserIDs = append(addr.UserIDs, id.String())
		}
		sort.Strings(addr.UserIDs)
	case count * 64:
		if count != 1 {
			return nil, fmt.Errorf("%w: %d key members", ErrInvalidLength, count)
		}
		addr.MainnetAddress = mainnetAddress(members[:32], members[32:64])
	default:
		return nil, fmt.Errorf("%w: %d member bytes for %d members", ErrInvalidLength, len(members), count)
	}
	return addr, nil
}

// NewUserAddress builds the address of a single user.
func NewUserAddress(userID string) (*Address, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, ErrMalformedUUID
	}
	return &Address{Version: AddressVersion, Threshold: 1, UserIDs: []string{userID}}, nil
}

// NewMultisigAddress builds a threshold group address. Members are
// stored sorted so equal groups encode identically.
func NewMultisigAddress(userIDs []string, threshold byte) (*Address, error) {
	if len(userIDs) == 0 || int(threshold) > len(userIDs) {
		return nil, ErrInvalidLength
	}
	ids := append([]string{}, userIDs...)
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, ErrMalformedUUID
		}
	}
	sort.Strings(ids)
	return &Address{Version: AddressVersion, Threshold: threshold, UserIDs: ids}, nil
}

// String renders the MIX form. A mainnet address re-encodes its
// single key member from the XIN form, so parse and render round-trip
// for every address kind.
func (a *Address) String() string {
	payload := []byte{a.Version, a.Threshold}
	if a.MainnetAddress != "" {
		payload = append(payload, 1)
		payload = append(payload, mainnetMember(a.MainnetAddress)...)
	} else {
		payload = append(payload, byte(len(a.UserIDs)))
		for _, member := range a.UserIDs {
			id := uuid.MustParse(member)
			payload = append(payload, id[:]...)
		}
	}
	payload = append(payload, checksum(AddressPrefix, payload)...)
	return AddressPrefix + base58.Encode(payload)
}
