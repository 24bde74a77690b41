package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/source"
)

type call struct {
	method string
	params []string
}

// stubSource returns fixed results and records its calls.
type stubSource struct {
	name      string
	countries []location.Country
	states    []location.State
	cities    []string
	err       error
	block     bool

	mu    sync.Mutex
	calls []call
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) record(ctx context.Context, method string, params ...string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{method: method, params: params})
	s.mu.Unlock()
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *stubSource) Countries(ctx context.Context) ([]location.Country, error) {
	if err := s.record(ctx, "countries"); err != nil {
		return nil, err
	}
	return s.countries, nil
}

func (s *stubSource) States(ctx context.Context, country string) ([]location.State, error) {
	if err := s.record(ctx, "states", country); err != nil {
		return nil, err
	}
	return s.states, nil
}

func (s *stubSource) Cities(ctx context.Context, country, state string) ([]string, error) {
	if err := s.record(ctx, "cities", country, state); err != nil {
		return nil, err
	}
	return s.cities, nil
}

func (s *stubSource) Calls() []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]call(nil), s.calls...)
}

func newFetcher(t *testing.T, primary, fallback source.Source) *Fetcher {
	t.Helper()
	f, err := New(Opts{Primary: primary, Fallback: fallback, Timeout: time.Second})
	require.NoError(t, err)
	return f
}

func TestFetcher_PrimarySuccess(t *testing.T) {
	p := &stubSource{name: "primary", countries: []location.Country{{Name: "USA"}}}
	fb := &stubSource{name: "fallback"}
	f := newFetcher(t, p, fb)

	got, err := f.FetchCountries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []location.Country{{Name: "USA"}}, got)
	assert.Len(t, p.Calls(), 1)
	assert.Empty(t, fb.Calls())
}

func TestFetcher_FallbackTriggers(t *testing.T) {
	tests := []struct {
		name    string
		primary *stubSource
	}{
		{"transport error", &stubSource{name: "primary", err: errors.New("connection refused")}},
		{"non-2xx", &stubSource{name: "primary", err: &source.HTTPError{StatusCode: 500}}},
		{"empty data", &stubSource{name: "primary", states: []location.State{}}},
		{"absent data", &stubSource{name: "primary"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &stubSource{name: "fallback", states: []location.State{{Name: "Texas", StateCode: "TX"}}}
			f := newFetcher(t, tt.primary, fb)

			got, err := f.FetchStates(context.Background(), "USA")
			require.NoError(t, err)
			assert.Equal(t, []location.State{{Name: "Texas", StateCode: "TX"}}, got)
			assert.Equal(t, []call{{method: "states", params: []string{"USA"}}}, fb.Calls())
		})
	}
}

func TestFetcher_ScenarioC(t *testing.T) {
	p := &stubSource{name: "primary", err: &source.HTTPError{StatusCode: 500, Body: []byte("internal error")}}
	fb := &stubSource{name: "fallback", states: []location.State{{Name: "Ruritania", StateCode: "RU"}}}
	f := newFetcher(t, p, fb)

	got, err := f.FetchStates(context.Background(), "Freedonia")
	require.NoError(t, err)
	assert.Equal(t, []location.State{{Name: "Ruritania", StateCode: "RU"}}, got)
	assert.Equal(t, []call{{method: "states", params: []string{"Freedonia"}}}, fb.Calls())
}

func TestFetcher_ScenarioD(t *testing.T) {
	p := &stubSource{name: "primary", err: errors.New("boom")}
	fb := &stubSource{name: "fallback", err: &source.HTTPError{StatusCode: 503}}
	f := newFetcher(t, p, fb)

	got, err := f.FetchCities(context.Background(), "USA", "TX")
	require.NoError(t, err)
	assert.NotNil(t, got.Names)
	assert.Empty(t, got.Names)
	assert.True(t, got.Degraded)
	assert.Len(t, p.Calls(), 1)
	assert.Len(t, fb.Calls(), 1)
}

func TestFetcher_CitiesSuccess(t *testing.T) {
	p := &stubSource{name: "primary", cities: []string{"Austin"}}
	f := newFetcher(t, p, &stubSource{name: "fallback"})

	got, err := f.FetchCities(context.Background(), "USA", "TX")
	require.NoError(t, err)
	assert.Equal(t, location.CityList{Names: []string{"Austin"}}, got)
}

func TestFetcher_TerminalPropagation(t *testing.T) {
	p := &stubSource{name: "primary", err: errors.New("dial tcp: timeout")}
	fb := &stubSource{name: "fallback", countries: []location.Country{}}
	f := newFetcher(t, p, fb)

	_, err := f.FetchCountries(context.Background())
	require.ErrorIs(t, err, ErrAllFailed)
	assert.Contains(t, err.Error(), "all location services failed for countries")
	assert.Contains(t, err.Error(), "[primary: dial tcp: timeout]")
	assert.Contains(t, err.Error(), "[fallback: empty result]")

	_, err = f.FetchStates(context.Background(), "USA")
	assert.ErrorIs(t, err, ErrAllFailed)
	assert.Len(t, fb.Calls(), 2)
}

func TestFetcher_NoFallback(t *testing.T) {
	p := &stubSource{name: "primary", err: errors.New("boom")}
	f := newFetcher(t, p, nil)

	_, err := f.FetchCountries(context.Background())
	assert.ErrorIs(t, err, ErrAllFailed)
}

func TestFetcher_Timeout(t *testing.T) {
	p := &stubSource{name: "primary", block: true}
	fb := &stubSource{name: "fallback", countries: []location.Country{{Name: "USA"}}}
	f, err := New(Opts{Primary: p, Fallback: fb, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	got, err := f.FetchCountries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []location.Country{{Name: "USA"}}, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_CallerCanceled(t *testing.T) {
	p := &stubSource{name: "primary", block: true}
	fb := &stubSource{name: "fallback", cities: []string{"Austin"}}
	f := newFetcher(t, p, fb)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.FetchCities(ctx, "USA", "TX")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, fb.Calls())
}

func TestNew(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)

	reg := prometheus.NewRegistry()
	p := &stubSource{name: "primary"}
	_, err = New(Opts{Primary: p, MetricsReg: reg})
	require.NoError(t, err)
	_, err = New(Opts{Primary: p, MetricsReg: reg})
	assert.Error(t, err)
}
