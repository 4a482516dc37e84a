package address

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Region is the gazetteer for the micro-region the dispatch center serves.
type Region struct {
	State       string   `yaml:"state"`
	StateName   string   `yaml:"state_name"`
	County      string   `yaml:"county"`
	DefaultCity string   `yaml:"default_city"`
	Cities      []string `yaml:"cities"`
}

// JohnsonCounty is the built-in gazetteer. City order is match priority.
var JohnsonCounty = Region{
	State:       "IA",
	StateName:   "Iowa",
	County:      "Johnson County",
	DefaultCity: "iowa city",
	Cities:      []string{"iowa city", "north liberty", "coralville", "tiffin", "solon", "swisher"},
}

// LoadRegion reads a gazetteer from a YAML file. Unset fields keep the
// JohnsonCounty values.
func LoadRegion(path string) (Region, error) {
	r := JohnsonCounty
	r.Cities = append([]string(nil), JohnsonCounty.Cities...)
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Region{}, eris.Wrapf(err, "address: read region file %s", path)
	}
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Region{}, eris.Wrapf(err, "address: parse region file %s", path)
	}
	if len(r.Cities) == 0 {
		return Region{}, eris.Errorf("address: region file %s lists no cities", path)
	}
	for i, c := range r.Cities {
		r.Cities[i] = strings.ToLower(strings.TrimSpace(c))
	}
	if r.DefaultCity == "" {
		r.DefaultCity = r.Cities[0]
	}
	r.DefaultCity = strings.ToLower(r.DefaultCity)
	return r, nil
}

// Clean trims address and appends the state code when neither the code nor
// the state name appears in it.
func (r Region) Clean(address string) string {
	cleaned := strings.TrimSpace(address)
	lower := strings.ToLower(cleaned)
	if !strings.Contains(lower, strings.ToLower(r.State)) && !strings.Contains(lower, strings.ToLower(r.StateName)) {
		cleaned += ", " + r.State
	}
	return cleaned
}

// City returns the title-cased name of the first gazetteer city found in
// address, or the default city.
func (r Region) City(address string) string {
	// A Caser keeps state between calls, so each call gets its own.
	title := cases.Title(language.English)
	lower := strings.ToLower(address)
	for _, c := range r.Cities {
		if strings.Contains(lower, c) {
			return title.String(c)
		}
	}
	return title.String(r.DefaultCity)
}

// CityState returns "<City>, <State>" for address.
func (r Region) CityState(address string) string {
	return r.City(address) + ", " + r.State
}

// CountyState returns e.g. "Johnson County, IA".
func (r Region) CountyState() string {
	return r.County + ", " + r.State
}
