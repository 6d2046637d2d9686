// Package utils holds tiny helpers shared across layers, with no domain
// knowledge of their own.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s as an int, falling back to def when s is empty,
// padded with whitespace only, or not an integer. Used for query parameters
// where a bad value should mean "use the default", never an error.
func AtoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
