// Package primary implements the public geography API source. The wire
// format is countriesnow-compatible.
package primary

import (
	"context"
	"strings"

	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/source"
)

const (
	Name = "primary"

	DefaultBaseURL = "https://countriesnow.space/api/v0.1"
)

type Opts struct {
	// BaseURL is the API root without a trailing slash.
	BaseURL string

	Client *source.Client
}

func (opts *Opts) Init() {
	if len(opts.BaseURL) == 0 {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	if opts.Client == nil {
		opts.Client = source.NewClient(source.ClientOpts{})
	}
}

type Source struct {
	opts Opts
}

var _ source.Source = (*Source)(nil)

func New(opts Opts) *Source {
	opts.Init()
	return &Source{opts: opts}
}

func (s *Source) Name() string { return Name }

type envelope struct {
	Error bool   `json:"error"`
	Msg   string `json:"msg"`
}

func (e envelope) check() error {
	if e.Error {
		return &source.ProtocolError{Source: Name, Message: e.Msg}
	}
	return nil
}

type countryDTO struct {
	Name string `json:"name"`
	Iso2 string `json:"Iso2"`
	Iso3 string `json:"Iso3"`
}

type countriesResponse struct {
	envelope
	Data []countryDTO `json:"data"`
}

type stateDTO struct {
	Name      string `json:"name"`
	StateCode string `json:"state_code"`
}

type statesResponse struct {
	envelope
	Data struct {
		Name   string     `json:"name"`
		States []stateDTO `json:"states"`
	} `json:"data"`
}

type citiesResponse struct {
	envelope
	Data []string `json:"data"`
}

type statesRequest struct {
	Country string `json:"country"`
}

type citiesRequest struct {
	Country string `json:"country"`
	State   string `json:"state"`
}

func (s *Source) Countries(ctx context.Context) ([]location.Country, error) {
	var r countriesResponse
	if err := s.opts.Client.GetJSON(ctx, s.opts.BaseURL+"/countries/iso", &r); err != nil {
		return nil, err
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]location.Country, 0, len(r.Data))
	for _, c := range r.Data {
		out = append(out, location.Country{Name: c.Name, ISOCode2: c.Iso2, ISOCode3: c.Iso3})
	}
	return out, nil
}

func (s *Source) States(ctx context.Context, country string) ([]location.State, error) {
	var r statesResponse
	if err := s.opts.Client.PostJSON(ctx, s.opts.BaseURL+"/countries/states", statesRequest{Country: country}, &r); err != nil {
		return nil, err
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	out := make([]location.State, 0, len(r.Data.States))
	for _, st := range r.Data.States {
		out = append(out, location.State{Name: st.Name, StateCode: st.StateCode})
	}
	return out, nil
}

func (s *Source) Cities(ctx context.Context, country, state string) ([]string, error) {
	var r citiesResponse
	req := citiesRequest{Country: country, State: state}
	if err := s.opts.Client.PostJSON(ctx, s.opts.BaseURL+"/countries/state/cities", req, &r); err != nil {
		return nil, err
	}
	if err := r.check(); err != nil {
		return nil, err
	}
	return r.Data, nil
}
