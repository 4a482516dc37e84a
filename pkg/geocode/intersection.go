package geocode

import (
	"context"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/address"
)

// ResolveIntersection geocodes an intersection address. It returns on the
// first success of, in order: literal phrasings, phrasings with directionals
// stripped, the midpoint of both streets geocoded separately, and the
// center of the address's city.
func (g *Geocoder) ResolveIntersection(ctx context.Context, raw string) (*Result, error) {
	s1, s2 := address.ParseIntersection(raw)
	if s1 == "" || s2 == "" {
		g.log.Debug("unparseable intersection", zap.String("address", raw))
		return &Result{Matched: false}, nil
	}

	city := g.region.City(raw)
	cityState := g.region.CityState(raw)

	res, err := g.firstMatch(ctx, intersectionPhrasings(s1, s2, cityState, true))
	if err != nil || res.Matched {
		return withTier(res, TierIntersection), err
	}

	simple1, simple2 := address.SimplifyStreetName(s1), address.SimplifyStreetName(s2)
	if simple1 != s1 || simple2 != s2 {
		res, err = g.firstMatch(ctx, intersectionPhrasings(simple1, simple2, cityState, false))
		if err != nil || res.Matched {
			return withTier(res, TierIntersection), err
		}
	}

	p1, err := g.resolveStreet(ctx, s1, city, cityState)
	if err != nil {
		return nil, err
	}
	if p1.Matched {
		p2, err := g.resolveStreet(ctx, s2, city, cityState)
		if err != nil {
			return nil, err
		}
		if p2.Matched {
			return midpoint(p1, p2, fmt.Sprintf("Intersection of %s and %s, %s", s1, s2, cityState)), nil
		}
	}

	g.log.Debug("intersection streets unresolved, using city center",
		zap.String("address", raw), zap.String("city", cityState))
	res, err = g.search.Search(ctx, cityState)
	if err != nil {
		return nil, err
	}
	if res.Matched {
		return annotate(res, TierCityCenter, labelCityCenter), nil
	}
	return &Result{Matched: false}, nil
}

// intersectionPhrasings returns the literal query phrasings for two streets.
// The "intersection of" form is only used for unsimplified names.
func intersectionPhrasings(s1, s2, cityState string, withIntersectionOf bool) []string {
	qs := []string{
		fmt.Sprintf("%s & %s, %s", s1, s2, cityState),
		fmt.Sprintf("%s and %s, %s", s1, s2, cityState),
	}
	if withIntersectionOf {
		qs = append(qs, fmt.Sprintf("intersection of %s and %s, %s", s1, s2, cityState))
	}
	return qs
}

// resolveStreet geocodes a single street, stopping at the first phrasing that matches.
func (g *Geocoder) resolveStreet(ctx context.Context, street, city, cityState string) (*Result, error) {
	return g.firstMatch(ctx, []string{
		fmt.Sprintf("%s, %s", street, cityState),
		fmt.Sprintf("%s, %s", street, city),
		fmt.Sprintf("%s near %s, %s", street, city, g.region.State),
	})
}

// firstMatch tries each query in order and returns the first match.
func (g *Geocoder) firstMatch(ctx context.Context, queries []string) (*Result, error) {
	for _, q := range queries {
		res, err := g.search.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		if res.Matched {
			return res, nil
		}
	}
	return &Result{Matched: false}, nil
}

// midpoint returns the centroid of two matched points labeled as an approximation.
func midpoint(a, b *Result, label string) *Result {
	pa := geom.NewPointFlat(geom.XY, []float64{a.Longitude, a.Latitude})
	pb := geom.NewPointFlat(geom.XY, []float64{b.Longitude, b.Latitude})
	c := xy.PointsCentroid(pa, pb)
	return &Result{
		Latitude:         c.Y(),
		Longitude:        c.X(),
		FormattedAddress: label + " (" + labelMidpoint + ")",
		Query:            a.Query + " | " + b.Query,
		Tier:             TierMidpoint,
		Matched:          true,
	}
}

// withTier sets the tier on a matched result.
func withTier(res *Result, tier Tier) *Result {
	if res == nil || !res.Matched {
		return res
	}
	res.Tier = tier
	return res
}
