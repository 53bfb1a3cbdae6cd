package chain

import (
	"bytes"
	"errors"
	"math/big"

	"golang.org/x/crypto/blake2b"

	harvesterr "github.com/mrz1836/harvest/pkg/errors"
)

const (
	// ss58Context is hashed in front of the payload for the checksum.
	ss58Context = "SS58PRE"

	// ss58ChecksumLen is the checksum length for 32 byte account ids.
	ss58ChecksumLen = 2

	// accountIDLen is the length of a substrate account id.
	accountIDLen = 32

	// Base58 alphabet (excludes 0, O, I, l).
	base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
)

var (
	// ErrInvalidBase58 indicates invalid base58 encoding.
	ErrInvalidBase58 = errors.New("invalid base58 encoding")

	// ErrInvalidSS58Length indicates the decoded payload has an unexpected size.
	ErrInvalidSS58Length = errors.New("invalid ss58 address length")

	// base58AlphabetMap maps base58 characters to their values.
	//nolint:gochecknoglobals // Required for base58 encoding/decoding
	base58AlphabetMap = make(map[rune]int)
)

//nolint:gochecknoinits // Required for base58 alphabet map initialization
func init() {
	for i, c := range base58Alphabet {
		base58AlphabetMap[c] = i
	}
}

// DecodeSS58 returns the account id and network prefix of an SS58 address.
func DecodeSS58(address string) ([]byte, uint16, error) {
	if address == "" {
		return nil, 0, harvesterr.ErrInvalidAddress
	}

	decoded, err := base58Decode(address)
	if err != nil {
		return nil, 0, err
	}

	prefix, prefixLen, err := decodePrefix(decoded)
	if err != nil {
		return nil, 0, err
	}

	if len(decoded) != prefixLen+accountIDLen+ss58ChecksumLen {
		return nil, 0, ErrInvalidSS58Length
	}

	body := decoded[:prefixLen+accountIDLen]
	checksum := decoded[prefixLen+accountIDLen:]
	expected := ss58Checksum(body)
	if !bytes.Equal(checksum, expected[:ss58ChecksumLen]) {
		return nil, 0, harvesterr.ErrInvalidChecksum
	}

	pub := make([]byte, accountIDLen)
	copy(pub, decoded[prefixLen:prefixLen+accountIDLen])
	return pub, prefix, nil
}

// EncodeSS58 encodes a 32 byte account id with the given network prefix.
func EncodeSS58(pub []byte, prefix uint16) (string, error) {
	if len(pub) != accountIDLen {
		return "", ErrInvalidSS58Length
	}

	var body []byte
	switch {
	case prefix < 64:
		body = append(body, byte(prefix))
	case prefix < 16384:
		first := byte(((prefix & 0x00fc) >> 2) | 0x40)
		second := byte((prefix >> 8) | ((prefix & 0x0003) << 6))
		body = append(body, first, second)
	default:
		return "", harvesterr.ErrInvalidAddress
	}
	body = append(body, pub...)
	checksum := ss58Checksum(body)
	body = append(body, checksum[:ss58ChecksumLen]...)

	return base58Encode(body), nil
}

// IsSS58Address reports whether address decodes as a valid SS58 account.
func IsSS58Address(address string) bool {
	_, _, err := DecodeSS58(address)
	return err == nil
}

// ReformatAddress re-encodes an SS58 address with another network prefix.
// Addresses that are not SS58 are returned unchanged.
func ReformatAddress(address string, prefix uint16) string {
	pub, current, err := DecodeSS58(address)
	if err != nil || current == prefix {
		return address
	}
	out, err := EncodeSS58(pub, prefix)
	if err != nil {
		return address
	}
	return out
}

// SameAccount reports whether two substrate addresses refer to the same account id.
func SameAccount(a, b string) bool {
	if a == b {
		return true
	}
	pa, _, errA := DecodeSS58(a)
	pb, _, errB := DecodeSS58(b)
	return errA == nil && errB == nil && bytes.Equal(pa, pb)
}

func decodePrefix(decoded []byte) (uint16, int, error) {
	if len(decoded) == 0 {
		return 0, 0, ErrInvalidSS58Length
	}
	first := decoded[0]
	switch {
	case first < 64:
		return uint16(first), 1, nil
	case first < 128:
		if len(decoded) < 2 {
			return 0, 0, ErrInvalidSS58Length
		}
		second := decoded[1]
		lower := (first << 2) | (second >> 6)
		upper := second & 0x3f
		return uint16(lower) | uint16(upper)<<8, 2, nil
	default:
		return 0, 0, harvesterr.ErrInvalidAddress
	}
}

func ss58Checksum(body []byte) [64]byte {
	data := make([]byte, 0, len(ss58Context)+len(body))
	data = append(data, ss58Context...)
	data = append(data, body...)
	return blake2b.Sum512(data)
}

// base58Decode decodes a base58 string to bytes.
func base58Decode(s string) ([]byte, error) {
	result := big.NewInt(0)
	base := big.NewInt(58)

	for _, c := range s {
		val, ok := base58AlphabetMap[c]
		if !ok {
			return nil, ErrInvalidBase58
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(int64(val)))
	}

	decoded := result.Bytes()

	// Leading '1's map to leading zero bytes.
	leadingZeros := 0
	for _, c := range s {
		if c != '1' {
			break
		}
		leadingZeros++
	}

	return append(make([]byte, leadingZeros), decoded...), nil
}

// base58Encode encodes bytes to a base58 string.
func base58Encode(data []byte) string {
	x := new(big.Int).SetBytes(data)
	base := big.NewInt(58)
	mod := new(big.Int)

	var out []byte
	for x.Sign() > 0 {
		x.DivMod(x, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
