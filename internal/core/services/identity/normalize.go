// Package identity canonicalizes hardware addresses and product names so the
// same physical accessory matches across telemetry sources.
package identity

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode"
)

var (
	// ErrEmptyAddress indicates an empty address was provided
	ErrEmptyAddress = errors.New("empty hardware address")

	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = errors.New("invalid hardware address format")
)

// NormalizeAddress strips separators and lowercases: "AA:BB-cc dd" -> "aabbccdd".
func NormalizeAddress(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ':' || r == '-' || r == '.' || r == '_':
			continue
		case unicode.IsSpace(r):
			continue
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizeName lowercases and keeps only letters and digits: "Pro Buds!" -> "probuds".
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// LedgerKey identifies a device in the missing telemetry ledger.
func LedgerKey(name, address string) string {
	return NormalizeName(name) + "|" + NormalizeAddress(address)
}

// ParseAddress parses "XX:XX:XX:XX:XX:XX", "XX-XX-..", "XX_XX_.." or "XXXXXXXXXXXX".
func ParseAddress(s string) (net.HardwareAddr, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrEmptyAddress
	}

	compact := NormalizeAddress(s)
	if len(compact) != 12 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	parts := make([]string, 0, 6)
	for i := 0; i < len(compact); i += 2 {
		parts = append(parts, compact[i:i+2])
	}

	hw, err := net.ParseMAC(strings.Join(parts, ":"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return hw, nil
}

// CanonicalAddress renders a parseable address as "AA:BB:CC:DD:EE:FF".
// Anything else is returned trimmed and unchanged.
func CanonicalAddress(s string) string {
	hw, err := ParseAddress(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	return strings.ToUpper(hw.String())
}

// LooksLikeAddress reports whether s parses as a 48-bit hardware address.
func LooksLikeAddress(s string) bool {
	_, err := ParseAddress(s)
	return err == nil
}
