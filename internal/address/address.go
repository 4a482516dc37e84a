// Package address normalizes free-text dispatch addresses before geocoding.
package address

import (
	"regexp"
	"strings"
)

// intersectionSeparators are tried in order; the first one present splits the streets.
var intersectionSeparators = []string{"/", " & ", " AND ", " and ", " AT ", " at ", " @ "}

// directionalPrefixes are the leading tokens SimplifyStreetName removes.
var directionalPrefixes = []string{"N ", "S ", "E ", "W ", "NE ", "NW ", "SE ", "SW "}

var houseNumberRe = regexp.MustCompile(`^\d+\s+`)

// IsIntersection reports whether address names the junction of two streets.
// Any "/" counts, so a literal slash used for another reason (a fractional
// unit number, say) is misclassified.
func IsIntersection(address string) bool {
	return strings.Contains(address, "/")
}

// ParseIntersection splits the text before the first comma into two street
// names. Both results are empty when no separator is present.
func ParseIntersection(address string) (string, string) {
	part := address
	if i := strings.Index(part, ","); i >= 0 {
		part = part[:i]
	}
	part = strings.TrimSpace(part)

	for _, sep := range intersectionSeparators {
		if !strings.Contains(part, sep) {
			continue
		}
		s1, s2, _ := strings.Cut(part, sep)
		return strings.TrimSpace(s1), strings.TrimSpace(s2)
	}
	return "", ""
}

// SimplifyStreetName strips a single leading directional ("N ", "SW ", ...).
func SimplifyStreetName(street string) string {
	for _, prefix := range directionalPrefixes {
		if strings.HasPrefix(street, prefix) {
			return strings.TrimSpace(street[len(prefix):])
		}
	}
	return strings.TrimSpace(street)
}

// StreetPart returns the trimmed text before the first comma.
func StreetPart(address string) string {
	if i := strings.Index(address, ","); i >= 0 {
		address = address[:i]
	}
	return strings.TrimSpace(address)
}

// StripHouseNumber removes a leading numeric house-number token from the
// street part of address. ok is false when there was none to remove.
func StripHouseNumber(address string) (street string, ok bool) {
	part := StreetPart(address)
	loc := houseNumberRe.FindStringIndex(part)
	if loc == nil {
		return part, false
	}
	street = strings.TrimSpace(part[loc[1]:])
	return street, street != ""
}
