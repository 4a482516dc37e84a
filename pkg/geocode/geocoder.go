package geocode

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/chanzer0/tififn-times/internal/address"
	"github.com/chanzer0/tififn-times/internal/metrics"
)

// Approximation labels appended to the formatted address of fallback results.
const (
	labelStreet     = "street-level approximation"
	labelCity       = "city-level approximation"
	labelArea       = "area approximation"
	labelCityCenter = "city-center approximation"
	labelMidpoint   = "approximated"
)

// Geocoder turns raw dispatch addresses into coordinates. Intersections go
// through the intersection resolver; everything else is cleaned, queried
// directly and then walked down the fallback ladder.
type Geocoder struct {
	search Searcher
	region address.Region
	log    *zap.Logger
}

// NewGeocoder creates a Geocoder over the given searcher and gazetteer.
func NewGeocoder(s Searcher, region address.Region) *Geocoder {
	return &Geocoder{
		search: s,
		region: region,
		log:    zap.L().With(zap.String("component", "geocoder")),
	}
}

// attempt is one rung of a query ladder.
type attempt struct {
	query string
	tier  Tier
	label string
}

// Geocode resolves raw once. An unresolvable address yields an unmatched
// Result; the error is non-nil only when ctx is done.
func (g *Geocoder) Geocode(ctx context.Context, raw string) (*Result, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &Result{Matched: false}, nil
	}

	var (
		res *Result
		err error
	)
	if address.IsIntersection(raw) {
		res, err = g.ResolveIntersection(ctx, raw)
	} else {
		res, err = g.geocodeAddress(ctx, raw)
	}
	if err != nil {
		return nil, err
	}
	if res.Matched {
		metrics.GeocodeResolutions.WithLabelValues(string(res.Tier)).Inc()
	} else {
		metrics.GeocodeResolutions.WithLabelValues("not_found").Inc()
	}
	return res, nil
}

// GeocodeDirect sends query to the provider as-is, with no fallback.
func (g *Geocoder) GeocodeDirect(ctx context.Context, query string) (*Result, error) {
	return g.search.Search(ctx, query)
}

func (g *Geocoder) geocodeAddress(ctx context.Context, raw string) (*Result, error) {
	res, err := g.search.Search(ctx, g.region.Clean(raw))
	if err != nil {
		return nil, err
	}
	if res.Matched {
		return res, nil
	}
	return g.fallback(ctx, raw)
}

// fallbackLadder lists the successively broader queries tried after a
// direct miss. The street rung exists only when a house number was stripped.
func (g *Geocoder) fallbackLadder(raw string) []attempt {
	city := g.region.City(raw)
	cityState := g.region.CityState(raw)

	var ladder []attempt
	if street, ok := address.StripHouseNumber(raw); ok {
		ladder = append(ladder, attempt{street + ", " + cityState, TierStreet, labelStreet})
	}
	return append(ladder,
		attempt{cityState, TierCity, labelCity},
		attempt{city + ", " + g.region.CountyState(), TierArea, labelArea},
		attempt{city + ", " + g.region.StateName, TierArea, labelArea},
		attempt{g.region.CountyState(), TierArea, labelArea},
	)
}

func (g *Geocoder) fallback(ctx context.Context, raw string) (*Result, error) {
	for _, a := range g.fallbackLadder(raw) {
		res, err := g.search.Search(ctx, a.query)
		if err != nil {
			return nil, err
		}
		if res.Matched {
			g.log.Debug("fallback matched",
				zap.String("address", raw),
				zap.String("query", a.query),
				zap.String("tier", string(a.tier)),
			)
			return annotate(res, a.tier, a.label), nil
		}
	}
	g.log.Debug("fallback ladder exhausted", zap.String("address", raw))
	return &Result{Matched: false}, nil
}

// annotate marks res as an approximation of the given tier.
func annotate(res *Result, tier Tier, label string) *Result {
	out := *res
	out.Tier = tier
	out.FormattedAddress = res.FormattedAddress + " (" + label + ")"
	return &out
}
