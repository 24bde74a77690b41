package loccache

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/locres/pkg/cache/mem_cache"
	"github.com/pmkol/locres/pkg/location"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := new(dto.Metric)
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func newTestCache(t *testing.T) (*Cache, *mem_cache.MemCache, *fakeClock) {
	t.Helper()
	backend := mem_cache.NewMemCache(1024, 0)
	t.Cleanup(func() { backend.Close() })
	clk := newFakeClock()
	c, err := New(Opts{Backend: backend, Now: clk.Now})
	require.NoError(t, err)
	return c, backend, clk
}

func TestNew_NilBackend(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)
}

func TestCache_CountriesRoundTrip(t *testing.T) {
	c, _, _ := newTestCache(t)

	Set(c, location.Countries, []location.Country{{Name: "USA"}})
	v, ok := Get[[]location.Country](c, location.Countries)
	require.True(t, ok)
	assert.Equal(t, []location.Country{{Name: "USA"}}, v)
}

func TestCache_RoundTripDeepEqual(t *testing.T) {
	c, _, _ := newTestCache(t)

	states := []location.State{{Name: "Texas", StateCode: "TX"}, {Name: "Ohio", StateCode: "OH"}}
	Set(c, location.States, states, "USA")
	got, ok := Get[[]location.State](c, location.States, "usa")
	require.True(t, ok)
	assert.Equal(t, states, got)

	cities := []string{"Austin", "Dallas"}
	Set(c, location.Cities, cities, "USA", "TX")
	gotCities, ok := Get[[]string](c, location.Cities, "USA", "TX")
	require.True(t, ok)
	assert.Equal(t, cities, gotCities)

	_, ok = Get[[]string](c, location.Cities, "TX", "USA")
	assert.False(t, ok, "params are order-sensitive")
}

func TestCache_Miss(t *testing.T) {
	c, _, _ := newTestCache(t)
	v, ok := Get[[]location.Country](c, location.Countries)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestCache_StatesExpire(t *testing.T) {
	c, backend, clk := newTestCache(t)

	Set(c, location.States, []location.State{{Name: "Texas"}}, "USA")
	assert.Equal(t, 1, c.Stats().States)

	clk.Advance(721 * time.Minute)
	_, ok := Get[[]location.State](c, location.States, "USA")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().States)
	assert.Equal(t, 0, backend.Len())
}

func TestCache_TTLBoundary(t *testing.T) {
	for _, qt := range location.QueryTypes {
		t.Run(string(qt), func(t *testing.T) {
			c, _, clk := newTestCache(t)
			Set(c, qt, []string{"x"})

			clk.Advance(qt.TTL() - time.Millisecond)
			_, ok := Get[[]string](c, qt)
			assert.True(t, ok, "fresh just before ttl")

			clk.Advance(time.Millisecond)
			_, ok = Get[[]string](c, qt)
			assert.False(t, ok, "stale at exactly ttl")
		})
	}
}

func TestCache_Corrupt(t *testing.T) {
	c, backend, _ := newTestCache(t)
	future := time.Now().Add(time.Hour).UnixNano()

	backend.Store(location.Key(location.Countries), []byte("{not json"), future)
	_, ok := Get[[]location.Country](c, location.Countries)
	assert.False(t, ok)
	_, found := backend.Get(location.Key(location.Countries))
	assert.False(t, found, "corrupt entry must be deleted")

	backend.Store(location.Key(location.States, "usa"), []byte(`{"data":[]}`), future)
	_, ok = Get[[]location.State](c, location.States, "USA")
	assert.False(t, ok, "entry without ttl is corrupt")
	assert.Equal(t, 0, backend.Len())
}

func TestCache_WrongShapeIsCorrupt(t *testing.T) {
	c, backend, _ := newTestCache(t)

	Set(c, location.Cities, []string{"Austin"}, "USA", "TX")
	_, ok := Get[[]location.State](c, location.Cities, "USA", "TX")
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
}

func TestCache_SizeCeiling(t *testing.T) {
	c, backend, _ := newTestCache(t)

	big := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		big = append(big, strings.Repeat("c", 10))
	}
	Set(c, location.Cities, big, "USA", "CA")
	_, ok := Get[[]string](c, location.Cities, "USA", "CA")
	assert.False(t, ok)
	assert.Equal(t, 0, backend.Len())
	assert.Equal(t, 1.0, counterValue(t, c.oversizeTotal.WithLabelValues("cities")))
}

func TestCache_SizeCeilingKeepsPrevious(t *testing.T) {
	backend := mem_cache.NewMemCache(1024, 0)
	defer backend.Close()
	c, err := New(Opts{Backend: backend, MaxEntrySize: 100})
	require.NoError(t, err)

	Set(c, location.Cities, []string{"Austin"}, "USA", "TX")
	Set(c, location.Cities, []string{strings.Repeat("x", 200)}, "USA", "TX")
	v, ok := Get[[]string](c, location.Cities, "USA", "TX")
	require.True(t, ok)
	assert.Equal(t, []string{"Austin"}, v)
}

func TestCache_ClearStats(t *testing.T) {
	c, _, _ := newTestCache(t)

	Set(c, location.Countries, []location.Country{{Name: "USA"}})
	Set(c, location.States, []location.State{{Name: "Texas"}}, "USA")
	Set(c, location.States, []location.State{{Name: "Bavaria"}}, "Germany")
	Set(c, location.Cities, []string{"Austin"}, "USA", "Texas")

	assert.Equal(t, Stats{Total: 4, Countries: 1, States: 2, Cities: 1}, c.Stats())

	assert.Equal(t, 2, c.Clear(location.States))
	assert.Equal(t, Stats{Total: 2, Countries: 1, States: 0, Cities: 1}, c.Stats())

	assert.Equal(t, 2, c.Clear(""))
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCache_StatsDoesNotEvict(t *testing.T) {
	c, _, clk := newTestCache(t)

	Set(c, location.Cities, []string{"Austin"}, "USA", "TX")
	clk.Advance(7 * time.Hour)
	assert.Equal(t, 1, c.Stats().Cities)
	assert.Equal(t, 1, c.Stats().Cities)
}

func TestCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	backend := mem_cache.NewMemCache(1024, 0)
	defer backend.Close()
	c, err := New(Opts{Backend: backend, MetricsReg: reg})
	require.NoError(t, err)

	Get[[]location.Country](c, location.Countries)
	Set(c, location.Countries, []location.Country{{Name: "USA"}})
	Get[[]location.Country](c, location.Countries)

	assert.Equal(t, 1.0, counterValue(t, c.lookupTotal.WithLabelValues("countries", resultMiss)))
	assert.Equal(t, 1.0, counterValue(t, c.lookupTotal.WithLabelValues("countries", resultHit)))

	_, err = New(Opts{Backend: backend, MetricsReg: reg})
	assert.Error(t, err, "duplicate registration")
}

func TestCache_Concurrent(t *testing.T) {
	c, _, _ := newTestCache(t)

	wg := sync.WaitGroup{}
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				Set(c, location.States, []location.State{{Name: "Texas"}}, "USA")
				Get[[]location.State](c, location.States, "USA")
				c.Stats()
			}
		}()
	}
	wg.Wait()
}
