// Package resolver answers location lookups from the cache and fills the
// cache from the fetcher on a miss.
package resolver

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/loccache"
)

var nopLogger = zap.NewNop()

type Fetcher interface {
	FetchCountries(ctx context.Context) ([]location.Country, error)
	FetchStates(ctx context.Context, country string) ([]location.State, error)
	FetchCities(ctx context.Context, country, state string) (location.CityList, error)
}

type Opts struct {
	Cache   *loccache.Cache
	Fetcher Fetcher
	Logger  *zap.Logger
}

func (opts *Opts) Init() error {
	if opts.Cache == nil {
		return errors.New("cache is required")
	}
	if opts.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type Resolver struct {
	opts  Opts
	group singleflight.Group
}

func New(opts Opts) (*Resolver, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Resolver{opts: opts}, nil
}

func (r *Resolver) Countries(ctx context.Context) ([]location.Country, error) {
	v, _, err := resolve(ctx, r, location.Countries, nil, func(ctx context.Context) ([]location.Country, bool, error) {
		v, err := r.opts.Fetcher.FetchCountries(ctx)
		return v, true, err
	})
	return v, err
}

func (r *Resolver) States(ctx context.Context, country string) ([]location.State, error) {
	v, _, err := resolve(ctx, r, location.States, []string{country}, func(ctx context.Context) ([]location.State, bool, error) {
		v, err := r.opts.Fetcher.FetchStates(ctx, country)
		return v, true, err
	})
	return v, err
}

// Cities never caches a degraded list, so the next lookup retries the
// sources.
func (r *Resolver) Cities(ctx context.Context, country, state string) (location.CityList, error) {
	names, cacheable, err := resolve(ctx, r, location.Cities, []string{country, state}, func(ctx context.Context) ([]string, bool, error) {
		cl, err := r.opts.Fetcher.FetchCities(ctx, country, state)
		if err != nil {
			return nil, false, err
		}
		return cl.Names, !cl.Degraded, nil
	})
	if err != nil {
		return location.CityList{}, err
	}
	if !cacheable {
		return location.CityList{Names: []string{}, Degraded: true}, nil
	}
	return location.CityList{Names: names}, nil
}

type fetchFunc[T any] func(ctx context.Context) (v T, cacheable bool, err error)

type result[T any] struct {
	v         T
	cacheable bool
}

func resolve[T any](ctx context.Context, r *Resolver, qt location.QueryType, params []string, fetch fetchFunc[T]) (T, bool, error) {
	if v, ok := loccache.Get[T](r.opts.Cache, qt, params...); ok {
		return v, true, nil
	}

	// The shared fetch outlives any single caller. Each source call is
	// bounded by the fetcher's own timeout.
	fetchCtx := context.WithoutCancel(ctx)
	key := location.Key(qt, params...)
	ch := r.group.DoChan(key, func() (any, error) {
		v, cacheable, err := fetch(fetchCtx)
		if err != nil {
			r.opts.Logger.Warn("location lookup failed",
				zap.String("key", key),
				zap.Error(err))
			return nil, err
		}
		if cacheable {
			loccache.Set(r.opts.Cache, qt, v, params...)
		}
		return result[T]{v: v, cacheable: cacheable}, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		out := res.Val.(result[T])
		return out.v, out.cacheable, nil
	}
}
