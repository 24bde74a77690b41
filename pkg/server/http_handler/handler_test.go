package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/locres/pkg/fetcher"
	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/loccache"
)

type testRequest struct{ r *http.Request }

func (r *testRequest) URL() *url.URL             { return r.r.URL }
func (r *testRequest) Header() Header            { return r.r.Header }
func (r *testRequest) Method() string            { return r.r.Method }
func (r *testRequest) Context() context.Context  { return r.r.Context() }
func (r *testRequest) RequestURI() string        { return r.r.RequestURI }
func (r *testRequest) GetRemoteAddr() string     { return r.r.RemoteAddr }
func (r *testRequest) SetRemoteAddr(addr string) { r.r.RemoteAddr = addr }

type testWriter struct{ w *httptest.ResponseRecorder }

func (w *testWriter) Header() Header              { return w.w.Header() }
func (w *testWriter) Write(b []byte) (int, error) { return w.w.Write(b) }
func (w *testWriter) WriteHeader(code int)        { w.w.WriteHeader(code) }

type stubResolver struct {
	countries []location.Country
	states    []location.State
	cities    location.CityList
	err       error
	gotParams []string
}

func (r *stubResolver) Countries(ctx context.Context) ([]location.Country, error) {
	return r.countries, r.err
}

func (r *stubResolver) States(ctx context.Context, country string) ([]location.State, error) {
	r.gotParams = []string{country}
	return r.states, r.err
}

func (r *stubResolver) Cities(ctx context.Context, country, state string) (location.CityList, error) {
	r.gotParams = []string{country, state}
	return r.cities, r.err
}

type stubCache struct {
	stats   loccache.Stats
	cleared []location.QueryType
}

func (c *stubCache) Stats() loccache.Stats { return c.stats }

func (c *stubCache) Clear(qt location.QueryType) int {
	c.cleared = append(c.cleared, qt)
	return 3
}

func do(t *testing.T, h *Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(&testWriter{rec}, &testRequest{req})
	return rec
}

func newTestHandler(t *testing.T, r Resolver, c CacheAdmin) *Handler {
	t.Helper()
	h, err := NewHandler(HandlerOpts{Resolver: r, Cache: c})
	require.NoError(t, err)
	return h
}

func TestNewHandler(t *testing.T) {
	_, err := NewHandler(HandlerOpts{})
	assert.Error(t, err)
}

func TestHandler_Lookup(t *testing.T) {
	r := &stubResolver{
		countries: []location.Country{{Name: "USA", ISOCode2: "US"}},
		states:    []location.State{{Name: "Texas", StateCode: "TX"}},
		cities:    location.CityList{Names: []string{"Austin"}},
	}
	h := newTestHandler(t, r, nil)

	rec := do(t, h, http.MethodGet, "/location?type=countries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jsonContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "max-age=86400", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"status":"success","data":[{"name":"USA","iso2":"US"}]}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/location?type=states&country=USA", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","data":[{"name":"Texas","state_code":"TX"}]}`, rec.Body.String())
	assert.Equal(t, []string{"USA"}, r.gotParams)

	rec = do(t, h, http.MethodGet, "/location?type=CITIES&country=USA&state=Texas", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success","data":["Austin"]}`, rec.Body.String())
	assert.Equal(t, []string{"USA", "Texas"}, r.gotParams)
	assert.Empty(t, rec.Header().Get(DegradedHeader))
}

func TestHandler_DegradedCities(t *testing.T) {
	r := &stubResolver{cities: location.CityList{Names: []string{}, Degraded: true}}
	h := newTestHandler(t, r, nil)

	rec := do(t, h, http.MethodGet, "/location?type=cities&country=USA&state=TX", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(DegradedHeader))
	assert.Empty(t, rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"status":"success","data":[]}`, rec.Body.String())
}

func TestHandler_BadRequests(t *testing.T) {
	h := newTestHandler(t, &stubResolver{}, nil)

	tests := []struct {
		target string
		code   int
	}{
		{"/location", http.StatusBadRequest},
		{"/location?type=planets", http.StatusBadRequest},
		{"/location?type=states", http.StatusBadRequest},
		{"/location?type=cities&country=USA", http.StatusBadRequest},
		{"/nowhere", http.StatusNotFound},
		{"/cache/stats", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodGet, tt.target, nil)
		assert.Equal(t, tt.code, rec.Code, tt.target)
	}

	rec := do(t, h, http.MethodPost, "/location?type=countries", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/location?type=planets", nil)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
}

func TestHandler_LookupFailure(t *testing.T) {
	r := &stubResolver{err: errors.Join(fetcher.ErrAllFailed, errors.New("boom"))}
	h := newTestHandler(t, r, nil)
	rec := do(t, h, http.MethodGet, "/location?type=countries", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	r.err = context.Canceled
	rec = do(t, h, http.MethodGet, "/location?type=countries", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandler_Cache(t *testing.T) {
	c := &stubCache{stats: loccache.Stats{Total: 3, Countries: 1, States: 2}}
	h := newTestHandler(t, &stubResolver{}, c)

	rec := do(t, h, http.MethodGet, "/cache/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total":3,"countries":1,"states":2,"cities":0}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/cache?type=states", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"removed":3}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/cache", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []location.QueryType{location.States, ""}, c.cleared)

	rec = do(t, h, http.MethodDelete, "/cache?type=planets", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/cache", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t, &stubResolver{}, nil)
	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestGetRemoteAddr(t *testing.T) {
	newReq := func(h http.Header) Request {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		for k, v := range h {
			req.Header[k] = v
		}
		return &testRequest{req}
	}

	addr, err := getRemoteAddr(newReq(nil), "")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1", addr.String())

	addr, err = getRemoteAddr(newReq(http.Header{"X-Forwarded-For": {"203.0.113.7, 10.0.0.1"}}), "")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", addr.String())

	addr, err = getRemoteAddr(newReq(http.Header{"Cf-Connecting-Ip": {"2001:db8::1"}}), "CF-Connecting-IP")
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1", addr.String())
}
