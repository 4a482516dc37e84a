package address

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsIntersection(t *testing.T) {
	t.Parallel()
	assert.True(t, IsIntersection("HWY 1 / Sand Rd, Iowa City"))
	assert.True(t, IsIntersection("1/2 Main St"))
	assert.False(t, IsIntersection("Main St & 1st Ave"))
	assert.False(t, IsIntersection("123 Main St"))
}

func TestParseIntersection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		s1, s2 string
	}{
		{"slash with city", "HWY 1 / Sand Rd, Iowa City", "HWY 1", "Sand Rd"},
		{"ampersand", "Dubuque St & Church St", "Dubuque St", "Church St"},
		{"upper AND", "MAIN ST AND 2ND AVE", "MAIN ST", "2ND AVE"},
		{"lower and", "Main St and 2nd Ave", "Main St", "2nd Ave"},
		{"AT", "I80 AT EXIT 242", "I80", "EXIT 242"},
		{"at sign", "Ireland Ave @ Marengo Rd, Tiffin", "Ireland Ave", "Marengo Rd"},
		{"slash wins over and", "Sand and Gravel Rd/HWY 1", "Sand and Gravel Rd", "HWY 1"},
		{"no separator", "Main St, Iowa City", "", ""},
		{"separator after comma ignored", "Main St, Iowa City / Coralville", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s1, s2 := ParseIntersection(tt.in)
			assert.Equal(t, tt.s1, s1)
			assert.Equal(t, tt.s2, s2)
		})
	}
}

func TestSimplifyStreetName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Main St", SimplifyStreetName("NE Main St"))
	assert.Equal(t, "Main St", SimplifyStreetName("N Main St"))
	assert.Equal(t, "Dodge St", SimplifyStreetName("SW Dodge St"))
	assert.Equal(t, "Main St", SimplifyStreetName("Main St"))
	assert.Equal(t, "North Liberty Rd", SimplifyStreetName("North Liberty Rd"))
	// Only one directional is stripped.
	assert.Equal(t, "N Main St", SimplifyStreetName("S N Main St"))
}

func TestStripHouseNumber(t *testing.T) {
	t.Parallel()

	street, ok := StripHouseNumber("123 Main St, Iowa City")
	assert.True(t, ok)
	assert.Equal(t, "Main St", street)

	street, ok = StripHouseNumber("Main St, Iowa City")
	assert.False(t, ok)
	assert.Equal(t, "Main St", street)

	_, ok = StripHouseNumber("1200")
	assert.False(t, ok)
}

func TestStreetPart(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "123 Main St", StreetPart(" 123 Main St , Solon, IA"))
	assert.Equal(t, "Main St", StreetPart("Main St"))
}
