// Package natural orders strings the way people read them: runs of ASCII
// digits compare by numeric value, so "cpu2" sorts before "cpu10".
package natural

import (
	"sort"
	"strings"
)

// Compare returns -1, 0 or 1. Digit runs are compared numerically without
// parsing, so arbitrarily long runs never overflow. At a position where one
// side has a digit and the other does not, the digit sorts first. When one
// string is exhausted the shorter string sorts first.
func Compare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		da, db := isDigit(ca), isDigit(cb)

		switch {
		case da && db:
			si := i
			for i < len(a) && isDigit(a[i]) {
				i++
			}
			sj := j
			for j < len(b) && isDigit(b[j]) {
				j++
			}
			if c := compareDigits(a[si:i], b[sj:j]); c != 0 {
				return c
			}
		case da:
			return -1
		case db:
			return 1
		default:
			if ca != cb {
				if ca < cb {
					return -1
				}
				return 1
			}
			i++
			j++
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Sort sorts names in place in natural order.
func Sort(names []string) {
	sort.SliceStable(names, func(i, j int) bool { return Less(names[i], names[j]) })
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// compareDigits compares two digit runs by value.
func compareDigits(x, y string) int {
	x = strings.TrimLeft(x, "0")
	y = strings.TrimLeft(y, "0")
	if len(x) != len(y) {
		if len(x) < len(y) {
			return -1
		}
		return 1
	}
	return strings.Compare(x, y)
}
