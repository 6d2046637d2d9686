package utils

import "testing"

func TestAtoiDefault(t *testing.T) {
	cases := []struct {
		name string
		in   string
		def  int
		want int
	}{
		{"valid", "42", 0, 42},
		{"negative", "-3", 0, -3},
		{"empty", "", 10, 10},
		{"whitespace only", "   ", 7, 7},
		{"padded", " 15 ", 0, 15},
		{"not a number", "abc", 5, 5},
		{"float rejected", "3.5", 9, 9},
		{"overflow rejected", "99999999999999999999", 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AtoiDefault(tc.in, tc.def); got != tc.want {
				t.Fatalf("AtoiDefault(%q, %d) = %d; want %d", tc.in, tc.def, got, tc.want)
			}
		})
	}
}
