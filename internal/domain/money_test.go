package domain_test

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/retail-ledger-go/internal/domain"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in    string
		minor int64
	}{
		{"0", 0},
		{"200.00", 20000},
		{"150", 15000},
		{"150,5", 15050},
		{" 2999.99 ", 299999},
		{"10.500", 1050},
		{"-3.25", -325},
		{"0.01", 1},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			m, err := domain.ParseMoney(tt.in)
			if err != nil {
				t.Fatalf("ParseMoney(%q) error: %v", tt.in, err)
			}
			if m.MinorUnits() != tt.minor {
				t.Errorf("ParseMoney(%q) = %d minor units, want %d", tt.in, m.MinorUnits(), tt.minor)
			}
		})
	}
}

func TestParseMoney_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "10.005", "1.2.3", "99999999999999999999"} {
		t.Run(in, func(t *testing.T) {
			_, err := domain.ParseMoney(in)
			var invalid *domain.ErrInvalidAmount
			if !errors.As(err, &invalid) {
				t.Fatalf("ParseMoney(%q) error = %v, want ErrInvalidAmount", in, err)
			}
		})
	}
}

func TestParseMoney_ExtremeExponents(t *testing.T) {
	inputs := []string{
		"1e100000000",
		"1e-100000000",
		"0e100000000",
		"-1E2147483647",
		"1e19",
		"1.5e-41",
		"1" + strings.Repeat("0", 60),
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			start := time.Now()
			_, err := domain.ParseMoney(in)
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("ParseMoney(%q) took %v", in, elapsed)
			}
			var invalid *domain.ErrInvalidAmount
			if !errors.As(err, &invalid) {
				t.Fatalf("ParseMoney(%q) error = %v, want ErrInvalidAmount", in, err)
			}
		})
	}

	// Scientific notation within range still parses.
	m, err := domain.ParseMoney("1.5e3")
	if err != nil {
		t.Fatalf("ParseMoney(1.5e3): %v", err)
	}
	if m.MinorUnits() != 150000 {
		t.Errorf("ParseMoney(1.5e3) = %d minor units, want 150000", m.MinorUnits())
	}
}

func TestMoneyFromFloat(t *testing.T) {
	m, err := domain.MoneyFromFloat(0.1 + 0.2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.String() != "0.30" {
		t.Errorf("expected 0.30, got %s", m)
	}

	m, err = domain.MoneyFromFloat(2.675)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.MinorUnits() != 268 && m.MinorUnits() != 267 {
		t.Errorf("unexpected quantization of 2.675: %s", m)
	}

	if _, err := domain.MoneyFromFloat(0.004); err == nil {
		t.Error("expected sign-changing quantization to fail")
	}
	if _, err := domain.MoneyFromFloat(math.NaN()); err == nil {
		t.Error("expected NaN to fail")
	}
}

func TestMoney_Arithmetic(t *testing.T) {
	a := domain.MustParseMoney("0.10")
	b := domain.MustParseMoney("0.20")

	if got := a.Add(b); got.String() != "0.30" {
		t.Errorf("0.10 + 0.20 = %s, want 0.30", got)
	}
	if got := a.Sub(b); got.String() != "-0.10" {
		t.Errorf("0.10 - 0.20 = %s, want -0.10", got)
	}
	if !a.LessThan(b) || !a.LessOrEqual(a) || a.Equal(b) {
		t.Error("ordering is inconsistent")
	}
	if a.Cmp(b) != -1 || b.Cmp(a) != 1 || a.Cmp(a) != 0 {
		t.Error("Cmp is inconsistent")
	}
	if a.Add(b).Sub(b) != a {
		t.Error("Add/Sub are not inverse")
	}
}

func TestMoney_Formatting(t *testing.T) {
	m := domain.MustParseMoney("1500")
	if m.String() != "1500.00" {
		t.Errorf("String() = %s", m.String())
	}
	if m.BRL() != "R$ 1500,00" {
		t.Errorf("BRL() = %s", m.BRL())
	}
}

func TestMoney_JSON(t *testing.T) {
	var body struct {
		Amount domain.Money `json:"amount"`
	}
	if err := json.Unmarshal([]byte(`{"amount":"12.34"}`), &body); err != nil {
		t.Fatalf("unmarshal string: %v", err)
	}
	if body.Amount.MinorUnits() != 1234 {
		t.Errorf("expected 1234, got %d", body.Amount.MinorUnits())
	}
	if err := json.Unmarshal([]byte(`{"amount":56.7}`), &body); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if body.Amount.MinorUnits() != 5670 {
		t.Errorf("expected 5670, got %d", body.Amount.MinorUnits())
	}
	if err := json.Unmarshal([]byte(`{"amount":"1.001"}`), &body); err == nil {
		t.Error("expected error for three decimal places")
	}

	out, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"amount":"56.70"}` {
		t.Errorf("unexpected JSON: %s", out)
	}
}
