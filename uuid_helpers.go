package main

import (
	"errors"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const smartPlaylistPrefix = "smart_"

var errInvalidBase62 = errors.New("invalid base62 character")

// GenerateBase62UUID generates a new UUID and encodes it as a base62 string
func GenerateBase62UUID() string {
	return UUIDToBase62(uuid.New())
}

// newSmartPlaylistID returns an opaque public id such as "smart_4bTq...".
func newSmartPlaylistID() string {
	return smartPlaylistPrefix + GenerateBase62UUID()
}

// validSmartPlaylistID reports whether id was produced by newSmartPlaylistID.
func validSmartPlaylistID(id string) bool {
	rest, ok := strings.CutPrefix(id, smartPlaylistPrefix)
	if !ok || rest == "" || len(rest) > 22 {
		return false
	}
	_, err := Base62ToUUID(rest)
	return err == nil
}

// UUIDToBase62 converts a UUID to a base62 encoded string
func UUIDToBase62(id uuid.UUID) string {
	var n big.Int
	n.SetBytes(id[:])
	return toBase62(&n)
}

// Base62ToUUID converts a base62 string back to a UUID
func Base62ToUUID(s string) (uuid.UUID, error) {
	n, err := fromBase62(s)
	if err != nil {
		return uuid.Nil, err
	}
	raw := n.Bytes()
	if len(raw) > 16 {
		return uuid.Nil, errors.New("base62 value overflows a uuid")
	}
	var b [16]byte
	copy(b[16-len(raw):], raw)
	return uuid.FromBytes(b[:])
}

func toBase62(num *big.Int) string {
	if num.Sign() == 0 {
		return "0"
	}

	var digits []byte
	base := big.NewInt(62)
	mod := new(big.Int)
	n := new(big.Int).Set(num)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, base62Alphabet[mod.Int64()])
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func fromBase62(s string) (*big.Int, error) {
	result := big.NewInt(0)
	base := big.NewInt(62)
	for _, char := range s {
		idx := strings.IndexRune(base62Alphabet, char)
		if idx == -1 {
			return nil, errInvalidBase62
		}
		result.Mul(result, base)
		result.Add(result, big.NewInt(int64(idx)))
	}
	return result, nil
}
