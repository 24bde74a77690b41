// Package location holds the normalized entities returned by every
// geography source, and the query keys used to cache them.
package location

// Country is a normalized country. ISO codes are empty when the source
// does not provide them.
type Country struct {
	Name     string `json:"name" yaml:"name"`
	ISOCode2 string `json:"isoCode2,omitempty" yaml:"isoCode2,omitempty"`
	ISOCode3 string `json:"isoCode3,omitempty" yaml:"isoCode3,omitempty"`
}

// State is a normalized first-level subdivision of a Country.
type State struct {
	Name      string `json:"name" yaml:"name"`
	StateCode string `json:"stateCode,omitempty" yaml:"stateCode,omitempty"`
}

// A city is a bare name, so there is no City type.

// CityList is the result of a city lookup. Degraded is set when every
// source failed and Names is empty because of that, not because the
// state has no cities.
type CityList struct {
	Names    []string `json:"names" yaml:"names"`
	Degraded bool     `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}
