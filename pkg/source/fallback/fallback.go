// Package fallback implements the internal location endpoint used when
// the primary source fails. It also encodes the same envelope, so a
// locres API can serve as the fallback of another instance.
package fallback

import (
	"context"
	"net/url"

	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/source"
)

const (
	Name = "fallback"

	StatusSuccess = "success"
	StatusError   = "error"
)

type Opts struct {
	// URL of the location endpoint. Query parameters are appended.
	URL string

	Client *source.Client
}

func (opts *Opts) Init() {
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

// Response is the envelope returned by the endpoint.
type Response[T any] struct {
	Status  string `json:"status"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

func (r *Response[T]) check() error {
	if r.Status != StatusSuccess {
		return &source.ProtocolError{Source: Name, Message: r.Message}
	}
	return nil
}

type CountryDTO struct {
	Name string `json:"name"`
	Iso2 string `json:"iso2,omitempty"`
	Iso3 string `json:"iso3,omitempty"`
}

type StateDTO struct {
	Name      string `json:"name"`
	StateCode string `json:"state_code,omitempty"`
}

func (s *Source) url(qt location.QueryType, kv ...string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("type", string(qt))
	for i := 0; i+1 < len(kv); i += 2 {
		q.Set(kv[i], kv[i+1])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func get[T any](ctx context.Context, s *Source, qt location.QueryType, kv ...string) (T, error) {
	var r Response[T]
	u, err := s.url(qt, kv...)
	if err != nil {
		return r.Data, err
	}
	if err := s.opts.Client.GetJSON(ctx, u, &r); err != nil {
		return r.Data, err
	}
	if err := r.check(); err != nil {
		return r.Data, err
	}
	return r.Data, nil
}

func (s *Source) Countries(ctx context.Context) ([]location.Country, error) {
	data, err := get[[]CountryDTO](ctx, s, location.Countries)
	if err != nil {
		return nil, err
	}
	out := make([]location.Country, 0, len(data))
	for _, c := range data {
		out = append(out, location.Country{Name: c.Name, ISOCode2: c.Iso2, ISOCode3: c.Iso3})
	}
	return out, nil
}

func (s *Source) States(ctx context.Context, country string) ([]location.State, error) {
	data, err := get[[]StateDTO](ctx, s, location.States, "country", country)
	if err != nil {
		return nil, err
	}
	out := make([]location.State, 0, len(data))
	for _, st := range data {
		out = append(out, location.State{Name: st.Name, StateCode: st.StateCode})
	}
	return out, nil
}

func (s *Source) Cities(ctx context.Context, country, state string) ([]string, error) {
	return get[[]string](ctx, s, location.Cities, "country", country, "state", state)
}
