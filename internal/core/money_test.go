package core

import (
	"encoding/json"
	"testing"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out int64
		ok  bool
	}{
		{"1", 100, true},
		{"1.0", 100, true},
		{"1.23", 123, true},
		{"1,23", 123, true},
		{"0.01", 1, true},
		{"1.005", 101, true}, // half-up rounding
		{"1.004", 100, true},
		{" 2.50 ", 250, true},
		{"0", 0, true},
		{"0.00", 0, true},
		{"-1", 0, false},
		{"-0.01", 0, false},
		{"abc", 0, false},
		{"1.2.3", 0, false},
		{"", 0, false},
		{"99999999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || got.Cents != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got.Cents, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseAmountUpperBound(t *testing.T) {
	if got, err := ParseAmount("100000000000"); err != nil || got.Cents != MaxAmountCents {
		t.Fatalf("max amount: got %d err=%v", got.Cents, err)
	}
	for _, in := range []string{"100000000000.01", "92233720368547758.07"} {
		if _, err := ParseAmount(in); err == nil {
			t.Errorf("%q should be rejected", in)
		}
	}
	if err := (Money{Cents: MaxAmountCents + 1}).Validate(); err == nil {
		t.Error("Validate should reject amounts above the bound")
	}
}

func TestMoneyString(t *testing.T) {
	cases := map[int64]string{
		0:      "0.00",
		5:      "0.05",
		123456: "1234.56",
		-250:   "-2.50",
	}
	for cents, want := range cases {
		if got := (Money{Cents: cents}).String(); got != want {
			t.Errorf("Money{%d}.String() = %q, want %q", cents, got, want)
		}
	}
}

func TestMoneyJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Money `json:"a"`
	}{A: Money{Cents: 1050}})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"a":"10.50"}` {
		t.Fatalf("unexpected json %s", b)
	}

	var m Money
	if err := json.Unmarshal([]byte(`12.5`), &m); err != nil || m.Cents != 1250 {
		t.Fatalf("bare number: got %d err=%v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`"-3.00"`), &m); err != nil || m.Cents != -300 {
		t.Fatalf("negative string: got %d err=%v", m.Cents, err)
	}
	if err := json.Unmarshal([]byte(`"x"`), &m); err == nil {
		t.Fatal("expected error for non-numeric")
	}
}
