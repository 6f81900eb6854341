package domain

import (
	"fmt"
	"strings"
)

const nationalIDLength = 11

// NationalID is a Brazilian CPF. A NationalID value is always valid: the
// only way to obtain one is through NewNationalID.
type NationalID struct {
	digits string
}

// NewNationalID strips formatting from raw and validates the two CPF check
// digits. Sequences of a single repeated digit are rejected even though
// they satisfy the checksum.
func NewNationalID(raw string) (NationalID, error) {
	digits := onlyDigits(raw)
	if len(digits) != nationalIDLength {
		return NationalID{}, &ErrInvalidIdentity{Reason: fmt.Sprintf("expected %d digits, got %d", nationalIDLength, len(digits))}
	}
	if strings.Count(digits, digits[:1]) == nationalIDLength {
		return NationalID{}, &ErrInvalidIdentity{Reason: "repeated digits"}
	}
	if checkDigit(digits[:9]) != digits[9] || checkDigit(digits[:10]) != digits[10] {
		return NationalID{}, &ErrInvalidIdentity{Reason: "check digits do not match"}
	}
	return NationalID{digits: digits}, nil
}

// checkDigit computes the mod-11 check digit over prefix. Weights start at
// len(prefix)+1 for the leftmost digit and decrease towards the right.
func checkDigit(prefix string) byte {
	sum := 0
	weight := len(prefix) + 1
	for i := 0; i < len(prefix); i++ {
		sum += int(prefix[i]-'0') * weight
		weight--
	}
	return byte('0' + (sum*10%11)%10)
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Digits returns the 11 raw digits.
func (n NationalID) Digits() string { return n.digits }

// IsZero reports whether n is the zero value.
func (n NationalID) IsZero() bool { return n.digits == "" }

// String formats the id as 000.000.000-00.
func (n NationalID) String() string {
	d := n.digits
	if len(d) != nationalIDLength {
		return d
	}
	return fmt.Sprintf("%s.%s.%s-%s", d[:3], d[3:6], d[6:9], d[9:])
}

// Masked returns the id with the middle digits hidden, for logs.
func (n NationalID) Masked() string {
	d := n.digits
	if len(d) != nationalIDLength {
		return "***"
	}
	return fmt.Sprintf("%s.***.***-%s", d[:3], d[9:])
}
