package domain_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

func TestNewNationalID_Valid(t *testing.T) {
	for _, raw := range []string{"529.982.247-25", "52998224725", "111.444.777-35", "390 533 447 05"} {
		t.Run(raw, func(t *testing.T) {
			id, err := domain.NewNationalID(raw)
			if err != nil {
				t.Fatalf("NewNationalID(%q) error: %v", raw, err)
			}
			if len(id.Digits()) != 11 {
				t.Errorf("expected 11 digits, got %q", id.Digits())
			}
		})
	}
}

func TestNewNationalID_Invalid(t *testing.T) {
	tests := map[string]string{
		"wrong first digit":  "529.982.247-35",
		"wrong second digit": "529.982.247-26",
		"too short":          "5299822472",
		"too long":           "529982247250",
		"empty":              "",
		"letters":            "abc.def.ghi-jk",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := domain.NewNationalID(raw)
			var invalid *domain.ErrInvalidIdentity
			if !errors.As(err, &invalid) {
				t.Fatalf("NewNationalID(%q) error = %v, want ErrInvalidIdentity", raw, err)
			}
		})
	}
}

func TestNewNationalID_RepeatedDigits(t *testing.T) {
	for d := 0; d <= 9; d++ {
		raw := strings.Repeat(fmt.Sprint(d), 11)
		if _, err := domain.NewNationalID(raw); err == nil {
			t.Errorf("expected %s to be rejected", raw)
		}
	}
}

// Every 9-digit prefix has exactly one pair of check digits that validates.
func TestNewNationalID_ChecksumDeterminism(t *testing.T) {
	prefix := "529982247"
	accepted := 0
	for suffix := 0; suffix < 100; suffix++ {
		raw := fmt.Sprintf("%s%02d", prefix, suffix)
		if _, err := domain.NewNationalID(raw); err == nil {
			accepted++
			if raw != "52998224725" {
				t.Errorf("unexpected accepted id %s", raw)
			}
		}
	}
	if accepted != 1 {
		t.Errorf("expected exactly one valid suffix, got %d", accepted)
	}
}

func TestNationalID_FormattingAndEquality(t *testing.T) {
	a, _ := domain.NewNationalID("52998224725")
	b, _ := domain.NewNationalID("529.982.247-25")

	if a != b {
		t.Error("expected ids with the same digits to be equal")
	}
	if a.String() != "529.982.247-25" {
		t.Errorf("String() = %s", a.String())
	}
	if a.Masked() != "529.***.***-25" {
		t.Errorf("Masked() = %s", a.Masked())
	}
}
