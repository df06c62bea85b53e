package strconvx

import "testing"

func TestItoaAtoiRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, -1, 42, -99999} {
		s := Itoa(v)
		got, err := Atoi(s)
		if err != nil {
			t.Fatalf("Atoi(%q) error: %v", s, err)
		}
		if got != v {
			t.Fatalf("Itoa/Atoi round trip: want %d, got %d", v, got)
		}
	}
}

func TestFormatIntUintBases(t *testing.T) {
	for _, c := range []struct {
		u    uint64
		base int
		want string
	}{
		{0, 2, "0"},
		{5, 2, "101"},
		{255, 16, "ff"},
		{255, 10, "255"},
		{35, 36, "z"},
	} {
		if got := FormatUint(c.u, c.base); got != c.want {
			t.Fatalf("FormatUint(%d,%d) = %q, want %q", c.u, c.base, got, c.want)
		}
	}
	if got := FormatInt(-15, 10); got != "-15" {
		t.Fatalf("FormatInt(-15,10) = %q, want -15", got)
	}
}

func TestParseUintBasePrefixes(t *testing.T) {
	for _, c := range []struct {
		s    string
		base int
		want uint64
	}{
		{"0", 0, 0},
		{"101", 2, 5},
		{"0b101", 0, 5},
		{"0o77", 0, 63},
		{"0xff", 0, 255},
		{"FF", 16, 255},
	} {
		got, err := ParseUint(c.s, c.base, 64)
		if err != nil {
			t.Fatalf("ParseUint(%q,%d) error: %v", c.s, c.base, err)
		}
		if got != c.want {
			t.Fatalf("ParseUint(%q,%d) = %d, want %d", c.s, c.base, got, c.want)
		}
	}
}

func TestParseUintRejectsBadDigits(t *testing.T) {
	for _, s := range []string{"", "g", "0x", "2", "0b102"} {
		if _, err := ParseUint(s, 2, 64); err == nil {
			t.Fatalf("ParseUint(%q,2) expected error", s)
		}
	}
}

func TestParseIntSignsAndLimits(t *testing.T) {
	for _, c := range []struct {
		s    string
		base int
		want int64
	}{
		{"+10", 10, 10},
		{"-10", 10, -10},
		{"0b11", 0, 3},
		{"-0x0f", 0, -15},
	} {
		got, err := ParseInt(c.s, c.base, 64)
		if err != nil {
			t.Fatalf("ParseInt(%q,%d) error: %v", c.s, c.base, err)
		}
		if got != c.want {
			t.Fatalf("ParseInt(%q,%d) = %d, want %d", c.s, c.base, got, c.want)
		}
	}
	if _, err := ParseInt("18446744073709551615", 10, 64); err == nil {
		t.Fatal("ParseInt(too big) expected error")
	}
}

func TestFormatParseFloatExactFractions(t *testing.T) {
	// Binary-exact fractions so host and MCU implementations agree digit for digit.
	for _, c := range []struct {
		in   float64
		prec int
		want string
	}{
		{0, 0, "0"},
		{12.25, 2, "12.25"},
		{-1.5, 1, "-1.5"},
	} {
		got := FormatFloat(c.in, 'f', c.prec, 64)
		if got != c.want {
			t.Fatalf("FormatFloat(%v,'f',%d) = %q, want %q", c.in, c.prec, got, c.want)
		}
		v, err := ParseFloat(got, 64)
		if err != nil {
			t.Fatalf("ParseFloat(%q) error: %v", got, err)
		}
		if v != c.in {
			t.Fatalf("round trip: ParseFloat(%q) = %v, want %v", got, v, c.in)
		}
	}

	if _, err := ParseFloat("12.3.4", 64); err == nil {
		t.Fatal("ParseFloat invalid expected error")
	}
}
