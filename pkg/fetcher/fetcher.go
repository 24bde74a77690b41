// Package fetcher queries a primary location source and, on failure,
// the fallback source once with the same parameters.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/source"
	"github.com/pmkol/locres/pkg/utils"
)

const defaultTimeout = 10 * time.Second

var nopLogger = zap.NewNop()

var ErrAllFailed = errors.New("all location services failed")

const (
	resultSuccess  = "success"
	resultEmpty    = "empty"
	resultTimeout  = "timeout"
	resultCanceled = "canceled"
	resultError    = "error"
)

type Opts struct {
	// Primary is required.
	Primary source.Source

	// Fallback is optional.
	Fallback source.Source

	// Timeout bounds each source call. Default is 10s.
	Timeout time.Duration

	Logger *zap.Logger

	// MetricsReg is optional.
	MetricsReg prometheus.Registerer
}

func (opts *Opts) Init() error {
	if opts.Primary == nil {
		return errors.New("primary source is required")
	}
	utils.SetDefaultNum(&opts.Timeout, defaultTimeout)
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	return nil
}

type Fetcher struct {
	opts     Opts
	sources  []source.Source
	attempts *prometheus.CounterVec
}

func New(opts Opts) (*Fetcher, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	f := &Fetcher{
		opts:    opts,
		sources: []source.Source{opts.Primary},
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "location_fetch_attempts_total",
			Help: "The total number of source calls by source, query type and result",
		}, []string{"source", "type", "result"}),
	}
	if opts.Fallback != nil {
		f.sources = append(f.sources, opts.Fallback)
	}
	if reg := opts.MetricsReg; reg != nil {
		if err := reg.Register(f.attempts); err != nil {
			return nil, fmt.Errorf("failed to register metrics, %w", err)
		}
	}
	return f, nil
}

// FetchCountries returns an error wrapping ErrAllFailed if no source
// returned a non-empty list.
func (f *Fetcher) FetchCountries(ctx context.Context) ([]location.Country, error) {
	return fetch(ctx, f, location.Countries, nil, func(ctx context.Context, s source.Source) ([]location.Country, error) {
		return s.Countries(ctx)
	})
}

// FetchStates returns an error wrapping ErrAllFailed if no source
// returned a non-empty list.
func (f *Fetcher) FetchStates(ctx context.Context, country string) ([]location.State, error) {
	return fetch(ctx, f, location.States, []string{country}, func(ctx context.Context, s source.Source) ([]location.State, error) {
		return s.States(ctx, country)
	})
}

// FetchCities does not fail when every source fails. It returns an empty
// list marked Degraded instead. An error is only returned when ctx is
// done.
func (f *Fetcher) FetchCities(ctx context.Context, country, state string) (location.CityList, error) {
	names, err := fetch(ctx, f, location.Cities, []string{country, state}, func(ctx context.Context, s source.Source) ([]string, error) {
		return s.Cities(ctx, country, state)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return location.CityList{}, ctxErr
		}
		f.opts.Logger.Warn("city lookup degraded to empty list",
			zap.String("country", country),
			zap.String("state", state),
			zap.Error(err))
		return location.CityList{Names: []string{}, Degraded: true}, nil
	}
	return location.CityList{Names: names}, nil
}

func fetch[T any](
	ctx context.Context,
	f *Fetcher,
	qt location.QueryType,
	params []string,
	call func(ctx context.Context, s source.Source) ([]T, error),
) ([]T, error) {
	errMsgs := make([]string, 0, len(f.sources))
	for _, s := range f.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		callCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
		res, err := call(callCtx, s)
		cancel()
		if err == nil && len(res) == 0 {
			err = source.ErrEmptyResult
		}
		if err == nil {
			f.attempts.WithLabelValues(s.Name(), string(qt), resultSuccess).Inc()
			return res, nil
		}

		fields := []zap.Field{
			zap.String("source", s.Name()),
			zap.String("type", string(qt)),
			zap.Strings("params", params),
		}
		switch {
		case ctx.Err() != nil:
			f.attempts.WithLabelValues(s.Name(), string(qt), resultCanceled).Inc()
			f.opts.Logger.Debug("location fetch canceled", fields...)
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			f.attempts.WithLabelValues(s.Name(), string(qt), resultTimeout).Inc()
			f.opts.Logger.Warn("location fetch timed out", append(fields, zap.Duration("timeout", f.opts.Timeout))...)
		case errors.Is(err, source.ErrEmptyResult):
			f.attempts.WithLabelValues(s.Name(), string(qt), resultEmpty).Inc()
			f.opts.Logger.Warn("location source returned no data", fields...)
		default:
			f.attempts.WithLabelValues(s.Name(), string(qt), resultError).Inc()
			f.opts.Logger.Warn("location fetch failed", append(fields, zap.Error(err))...)
		}
		errMsgs = append(errMsgs, fmt.Sprintf("[%s: %v]", s.Name(), err))
	}
	return nil, fmt.Errorf("%w for %s: %s", ErrAllFailed, qt, strings.Join(errMsgs, ", "))
}
