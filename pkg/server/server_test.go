package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/locres/pkg/location"
	H "github.com/pmkol/locres/pkg/server/http_handler"
)

type stubResolver struct{}

func (stubResolver) Countries(ctx context.Context) ([]location.Country, error) {
	return []location.Country{{Name: "USA"}}, nil
}

func (stubResolver) States(ctx context.Context, country string) ([]location.State, error) {
	return nil, nil
}

func (stubResolver) Cities(ctx context.Context, country, state string) (location.CityList, error) {
	return location.CityList{}, nil
}

func newTestHandler(t *testing.T) *H.Handler {
	t.Helper()
	h, err := H.NewHandler(H.HandlerOpts{Resolver: stubResolver{}})
	require.NoError(t, err)
	return h
}

func TestServer_ServeHTTP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ServerOpts{HttpHandler: newTestHandler(t)})
	errc := make(chan error, 1)
	go func() { errc <- s.ServeHTTP(l) }()

	c := &http.Client{Timeout: 5 * time.Second}
	var res *http.Response
	require.Eventually(t, func() bool {
		res, err = c.Get("http://" + l.Addr().String() + "/location?type=countries")
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"success","data":[{"name":"USA"}]}`, string(body))

	s.Close()
	assert.ErrorIs(t, <-errc, ErrServerClosed)
	assert.True(t, s.Closed())
}

func TestServer_ClosedBeforeServe(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(ServerOpts{HttpHandler: newTestHandler(t)})
	s.Close()
	assert.ErrorIs(t, s.ServeHTTP(l), ErrServerClosed)
}

func TestServer_MissingHandler(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	assert.ErrorIs(t, NewServer(ServerOpts{}).ServeHTTP(l), errMissingHTTPHandler)
}

func TestNewStdHandler(t *testing.T) {
	srv := httptest.NewServer(NewStdHandler(newTestHandler(t)))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
