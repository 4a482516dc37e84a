package geocode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chanzer0/tififn-times/internal/address"
)

func TestResolveIntersection_LiteralPhrasings(t *testing.T) {
	phrasings := []string{
		"HWY 1 & Sand Rd, Iowa City, IA",
		"HWY 1 and Sand Rd, Iowa City, IA",
		"intersection of HWY 1 and Sand Rd, Iowa City, IA",
	}
	for i, answer := range phrasings {
		t.Run(answer, func(t *testing.T) {
			s := newScriptedSearcher(map[string]*Result{answer: point(41.6, -91.5, "HWY 1 & Sand Road")})
			g := NewGeocoder(s, address.JohnsonCounty)

			res, err := g.Geocode(context.Background(), "HWY 1 / Sand Rd, Iowa City")
			require.NoError(t, err)
			require.True(t, res.Matched)
			assert.Equal(t, TierIntersection, res.Tier)
			assert.Equal(t, "HWY 1 & Sand Road", res.FormattedAddress)
			assert.Equal(t, phrasings[:i+1], s.Calls())
		})
	}
}

func TestResolveIntersection_SimplifiedPhrasings(t *testing.T) {
	s := newScriptedSearcher(map[string]*Result{
		"Dodge St and Church St, Iowa City, IA": point(41.67, -91.52, "Dodge & Church"),
	})
	g := NewGeocoder(s, address.JohnsonCounty)

	res, err := g.Geocode(context.Background(), "N Dodge St / E Church St")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, TierIntersection, res.Tier)
	assert.Equal(t, []string{
		"N Dodge St & E Church St, Iowa City, IA",
		"N Dodge St and E Church St, Iowa City, IA",
		"intersection of N Dodge St and E Church St, Iowa City, IA",
		"Dodge St & Church St, Iowa City, IA",
		"Dodge St and Church St, Iowa City, IA",
	}, s.Calls())
}

func TestResolveIntersection_Midpoint(t *testing.T) {
	s := newScriptedSearcher(map[string]*Result{
		"HWY 1, Tiffin, IA": point(41.70, -91.66, "Highway 1"),
		"Sand Rd, Tiffin":   point(41.60, -91.50, "Sand Road"),
	})
	g := NewGeocoder(s, address.JohnsonCounty)

	res, err := g.Geocode(context.Background(), "HWY 1 / Sand Rd, Tiffin")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, TierMidpoint, res.Tier)
	assert.InDelta(t, 41.65, res.Latitude, 1e-9)
	assert.InDelta(t, -91.58, res.Longitude, 1e-9)
	assert.Equal(t, "Intersection of HWY 1 and Sand Rd, Tiffin, IA (approximated)", res.FormattedAddress)

	// No directionals, so the simplified step is skipped entirely.
	assert.Equal(t, []string{
		"HWY 1 & Sand Rd, Tiffin, IA",
		"HWY 1 and Sand Rd, Tiffin, IA",
		"intersection of HWY 1 and Sand Rd, Tiffin, IA",
		"HWY 1, Tiffin, IA",
		"Sand Rd, Tiffin, IA",
		"Sand Rd, Tiffin",
	}, s.Calls())
}

func TestResolveIntersection_NearPhrasing(t *testing.T) {
	s := newScriptedSearcher(map[string]*Result{
		"Mehaffey Bridge Rd, Solon, IA": point(41.80, -91.50, "a"),
		"Dubuque St near Solon, IA":     point(41.70, -91.40, "b"),
	})
	g := NewGeocoder(s, address.JohnsonCounty)

	res, err := g.Geocode(context.Background(), "Mehaffey Bridge Rd/Dubuque St, Solon")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, TierMidpoint, res.Tier)
	assert.InDelta(t, 41.75, res.Latitude, 1e-9)
}

func TestResolveIntersection_CityCenter(t *testing.T) {
	s := newScriptedSearcher(map[string]*Result{
		"Sand Rd, Iowa City, IA": point(41.60, -91.50, "Sand Road"),
		"Iowa City, IA":          point(41.66, -91.53, "Iowa City, Johnson County, Iowa"),
	})
	g := NewGeocoder(s, address.JohnsonCounty)

	res, err := g.Geocode(context.Background(), "Gravel Pit Rd / Sand Rd")
	require.NoError(t, err)
	require.True(t, res.Matched)
	assert.Equal(t, TierCityCenter, res.Tier)
	assert.Equal(t, "Iowa City, Johnson County, Iowa (city-center approximation)", res.FormattedAddress)

	calls := s.Calls()
	assert.Equal(t, "Iowa City, IA", calls[len(calls)-1])
	// The first street never resolved, so the second is not queried.
	assert.NotContains(t, calls, "Sand Rd, Iowa City, IA")
}

func TestResolveIntersection_Exhausted(t *testing.T) {
	s := newScriptedSearcher(nil)
	g := NewGeocoder(s, address.JohnsonCounty)

	res, err := g.ResolveIntersection(context.Background(), "A St / B St, Swisher")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	// 3 literal + 3 for the first street + city center.
	assert.Len(t, s.Calls(), 7)
}

func TestResolveIntersection_Unparseable(t *testing.T) {
	s := newScriptedSearcher(map[string]*Result{"Iowa City, IA": point(1, 1, "x")})
	g := NewGeocoder(s, address.JohnsonCounty)

	for _, raw := range []string{"/Main St", "Main St/", "Main St, A/B"} {
		res, err := g.Geocode(context.Background(), raw)
		require.NoError(t, err)
		assert.False(t, res.Matched, raw)
	}
	assert.Empty(t, s.Calls())
}
