package fallback

import "github.com/pmkol/locres/pkg/location"

func EncodeCountries(cs []location.Country) Response[[]CountryDTO] {
	data := make([]CountryDTO, 0, len(cs))
	for _, c := range cs {
		data = append(data, CountryDTO{Name: c.Name, Iso2: c.ISOCode2, Iso3: c.ISOCode3})
	}
	return Response[[]CountryDTO]{Status: StatusSuccess, Data: data}
}

func EncodeStates(ss []location.State) Response[[]StateDTO] {
	data := make([]StateDTO, 0, len(ss))
	for _, s := range ss {
		data = append(data, StateDTO{Name: s.Name, StateCode: s.StateCode})
	}
	return Response[[]StateDTO]{Status: StatusSuccess, Data: data}
}

// EncodeCities never emits a null data field.
func EncodeCities(names []string) Response[[]string] {
	if names == nil {
		names = []string{}
	}
	return Response[[]string]{Status: StatusSuccess, Data: names}
}

func EncodeError(msg string) Response[[]any] {
	return Response[[]any]{Status: StatusError, Data: []any{}, Message: msg}
}
