package common

import "testing"

func TestFormatRawAmount(t *testing.T) {
	cases := []struct {
		raw      int64
		decimals int
		want     string
	}{
		{5000000, 6, "5"},
		{5000001, 6, "5.000001"},
		{1, 6, "0.000001"},
		{0, 6, "0"},
		{123456789, 6, "123.456789"},
		{-2500000, 6, "-2.5"},
	}

	for _, c := range cases {
		if got := FormatRawAmount(c.raw, c.decimals); got != c.want {
			t.Errorf("FormatRawAmount(%d, %d) = %q, want %q", c.raw, c.decimals, got, c.want)
		}
	}
}

func TestParseRawAmount(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     int64
		wantErr  bool
	}{
		{"5", 6, 5000000, false},
		{"5.000001", 6, 5000001, false},
		{"0.000001", 6, 1, false},
		{"123.456789", 6, 123456789, false},
		{"0.0000001", 6, 0, true}, // too many decimal places
		{"-1", 6, 0, true},
		{"abc", 6, 0, true},
		{"", 6, 0, true},
	}

	for _, c := range cases {
		got, err := ParseRawAmount(c.in, c.decimals)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseRawAmount(%q) expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRawAmount(%q) unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseRawAmount(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, raw := range []int64{1, 999999, 5000000, 20000000} {
		s := FormatRawAmount(raw, 6)
		back, err := ParseRawAmount(s, 6)
		if err != nil {
			t.Fatalf("round trip of %d failed: %v", raw, err)
		}
		if back != raw {
			t.Errorf("round trip of %d via %q = %d", raw, s, back)
		}
	}
}
