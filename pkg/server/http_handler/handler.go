/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of mosdns.
 */

package http_handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pmkol/locres/pkg/fetcher"
	"github.com/pmkol/locres/pkg/location"
	"github.com/pmkol/locres/pkg/loccache"
	"github.com/pmkol/locres/pkg/pool"
	"github.com/pmkol/locres/pkg/source/fallback"
)

var nopLogger = zap.NewNop()

var proxyHeaders = []string{"True-Client-IP", "X-Real-IP", "X-Forwarded-For"}

// DegradedHeader is set on a city response that is empty because every
// source failed.
const DegradedHeader = "X-Locres-Degraded"

const jsonContentType = "application/json; charset=utf-8"

type Resolver interface {
	Countries(ctx context.Context) ([]location.Country, error)
	States(ctx context.Context, country string) ([]location.State, error)
	Cities(ctx context.Context, country, state string) (location.CityList, error)
}

type CacheAdmin interface {
	Stats() loccache.Stats
	Clear(qt location.QueryType) int
}

type HandlerOpts struct {
	Resolver Resolver

	// Cache enables the cache endpoints. Optional.
	Cache CacheAdmin

	// Path serves location lookups. Default is "/location".
	Path string

	// CachePath serves "GET {CachePath}/stats" and "DELETE {CachePath}".
	// Default is "/cache".
	CachePath string

	HealthPath  string
	SrcIPHeader string
	Logger      *zap.Logger
}

func (opts *HandlerOpts) Init() error {
	if opts.Resolver == nil {
		return errors.New("nil resolver")
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger
	}
	if opts.Path == "" {
		opts.Path = "/location"
	}
	if opts.CachePath == "" {
		opts.CachePath = "/cache"
	}
	if opts.HealthPath == "" {
		opts.HealthPath = "/health"
	}
	return nil
}

type Handler struct {
	opts HandlerOpts
}

func NewHandler(opts HandlerOpts) (*Handler, error) {
	if err := opts.Init(); err != nil {
		return nil, err
	}
	return &Handler{opts: opts}, nil
}

func (h *Handler) warnErr(req Request, err error) {
	h.opts.Logger.Warn(err.Error(),
		zap.String("from", req.GetRemoteAddr()),
		zap.String("method", req.Method()),
		zap.String("url", req.RequestURI()))
}

// Interfaces to abstract net/http and gitlab.com/go-extension/http requests
type ResponseWriter interface {
	Header() Header
	Write([]byte) (int, error)
	WriteHeader(statusCode int)
}

type Header interface {
	Get(key string) string
	Set(key string, value string)
}

type Request interface {
	URL() *url.URL
	Header() Header
	Method() string
	Context() context.Context
	RequestURI() string
	GetRemoteAddr() string
	SetRemoteAddr(addr string)
}

func (h *Handler) ServeHTTP(w ResponseWriter, req Request) {
	if addr, err := getRemoteAddr(req, h.opts.SrcIPHeader); err == nil {
		req.SetRemoteAddr(addr.String())
	}

	path := req.URL().Path
	switch {
	case path == h.opts.HealthPath:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	case path == h.opts.Path:
		if req.Method() != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.serveLookup(w, req)
	case h.opts.Cache != nil && path == h.opts.CachePath+"/stats":
		if req.Method() != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.writeJSON(w, req, http.StatusOK, h.opts.Cache.Stats())
	case h.opts.Cache != nil && path == h.opts.CachePath:
		if req.Method() != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.serveClear(w, req)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) serveLookup(w ResponseWriter, req Request) {
	q := req.URL().Query()
	qt, err := location.ParseQueryType(q.Get("type"))
	if err != nil {
		h.writeJSON(w, req, http.StatusBadRequest, fallback.EncodeError(err.Error()))
		return
	}
	country := strings.TrimSpace(q.Get("country"))
	state := strings.TrimSpace(q.Get("state"))
	if (qt == location.States || qt == location.Cities) && len(country) == 0 {
		h.writeJSON(w, req, http.StatusBadRequest, fallback.EncodeError("missing country"))
		return
	}
	if qt == location.Cities && len(state) == 0 {
		h.writeJSON(w, req, http.StatusBadRequest, fallback.EncodeError("missing state"))
		return
	}

	ctx := req.Context()
	var v any
	switch qt {
	case location.Countries:
		var cs []location.Country
		if cs, err = h.opts.Resolver.Countries(ctx); err == nil {
			v = fallback.EncodeCountries(cs)
		}
	case location.States:
		var ss []location.State
		if ss, err = h.opts.Resolver.States(ctx, country); err == nil {
			v = fallback.EncodeStates(ss)
		}
	case location.Cities:
		var cl location.CityList
		if cl, err = h.opts.Resolver.Cities(ctx, country, state); err == nil {
			v = fallback.EncodeCities(cl.Names)
			if cl.Degraded {
				w.Header().Set(DegradedHeader, "true")
				h.writeJSON(w, req, http.StatusOK, v)
				return
			}
		}
	}
	if err != nil {
		code := http.StatusBadGateway
		if !errors.Is(err, fetcher.ErrAllFailed) {
			code = http.StatusServiceUnavailable
		}
		h.writeJSON(w, req, code, fallback.EncodeError(err.Error()))
		h.warnErr(req, fmt.Errorf("location lookup failed: %w", err))
		return
	}

	w.Header().Set("Cache-Control", "max-age="+strconv.Itoa(int(qt.TTL().Seconds())))
	h.writeJSON(w, req, http.StatusOK, v)
}

func (h *Handler) serveClear(w ResponseWriter, req Request) {
	var qt location.QueryType
	if s := req.URL().Query().Get("type"); len(s) > 0 {
		var err error
		if qt, err = location.ParseQueryType(s); err != nil {
			h.writeJSON(w, req, http.StatusBadRequest, fallback.EncodeError(err.Error()))
			return
		}
	}
	removed := h.opts.Cache.Clear(qt)
	h.opts.Logger.Info("location cache cleared",
		zap.String("type", string(qt)),
		zap.Int("removed", removed),
		zap.String("from", req.GetRemoteAddr()))
	h.writeJSON(w, req, http.StatusOK, struct {
		Removed int `json:"removed"`
	}{removed})
}

func (h *Handler) writeJSON(w ResponseWriter, req Request, code int, v any) {
	buf := pool.GetBuffer()
	defer pool.ReleaseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		h.warnErr(req, fmt.Errorf("encode response failed: %w", err))
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

func getRemoteAddr(req Request, customHeader string) (netip.Addr, error) {
	for _, h := range proxyHeaders {
		if val := req.Header().Get(h); val != "" {
			ipStr := val
			if h == "X-Forwarded-For" {
				ipStr, _, _ = strings.Cut(val, ",")
			}
			if addr, err := netip.ParseAddr(strings.TrimSpace(ipStr)); err == nil {
				return addr, nil
			}
		}
	}

	if customHeader != "" {
		if val := req.Header().Get(customHeader); val != "" {
			if addr, err := netip.ParseAddr(strings.TrimSpace(val)); err == nil {
				return addr, nil
			}
		}
	}

	addrport, err := netip.ParseAddrPort(req.GetRemoteAddr())
	if err != nil {
		return netip.Addr{}, err
	}
	return addrport.Addr(), nil
}
