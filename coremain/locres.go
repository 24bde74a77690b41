package coremain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pmkol/locres/mlog"
	"github.com/pmkol/locres/pkg/cache"
	"github.com/pmkol/locres/pkg/cache/mem_cache"
	"github.com/pmkol/locres/pkg/fetcher"
	"github.com/pmkol/locres/pkg/loccache"
	"github.com/pmkol/locres/pkg/resolver"
	"github.com/pmkol/locres/pkg/safe_close"
	"github.com/pmkol/locres/pkg/server"
	H "github.com/pmkol/locres/pkg/server/http_handler"
	"github.com/pmkol/locres/pkg/source"
	"github.com/pmkol/locres/pkg/source/fallback"
	"github.com/pmkol/locres/pkg/source/primary"
)

// Locres holds the resolver stack built from a Config.
type Locres struct {
	logger *zap.Logger

	backend  cache.Backend
	client   *source.Client
	cache    *loccache.Cache
	fetcher  *fetcher.Fetcher
	resolver *resolver.Resolver
	handler  *H.Handler

	httpAPIMux *http.ServeMux
	metricsReg *prometheus.Registry

	sc *safe_close.SafeClose
}

// NewLocres builds the cache, sources, fetcher and resolver described by cfg.
// The caller must call Close.
func NewLocres(cfg *Config, lg *zap.Logger) (*Locres, error) {
	m := &Locres{
		logger:     lg,
		httpAPIMux: http.NewServeMux(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}
	if err := m.init(cfg); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Locres) init(cfg *Config) error {
	var err error
	m.backend, err = newBackend(&cfg.Cache, m.logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("failed to init cache backend, %w", err)
	}

	m.cache, err = loccache.New(loccache.Opts{
		Backend:      m.backend,
		MaxEntrySize: cfg.Cache.MaxEntrySize,
		Logger:       m.logger.Named("cache"),
		MetricsReg:   m.GetMetricsReg(),
	})
	if err != nil {
		return fmt.Errorf("failed to init cache, %w", err)
	}

	ua := cfg.Sources.UserAgent
	if len(ua) == 0 {
		ua = "locres/" + Version
	}
	m.client = source.NewClient(source.ClientOpts{UserAgent: ua})
	fOpts := fetcher.Opts{
		Primary:    primary.New(primary.Opts{BaseURL: cfg.Sources.Primary, Client: m.client}),
		Timeout:    time.Duration(cfg.Sources.Timeout) * time.Second,
		Logger:     m.logger.Named("fetcher"),
		MetricsReg: m.GetMetricsReg(),
	}
	if len(cfg.Sources.Fallback) > 0 {
		fOpts.Fallback = fallback.New(fallback.Opts{URL: cfg.Sources.Fallback, Client: m.client})
	}
	m.fetcher, err = fetcher.New(fOpts)
	if err != nil {
		return fmt.Errorf("failed to init fetcher, %w", err)
	}

	m.resolver, err = resolver.New(resolver.Opts{
		Cache:   m.cache,
		Fetcher: m.fetcher,
		Logger:  m.logger.Named("resolver"),
	})
	if err != nil {
		return fmt.Errorf("failed to init resolver, %w", err)
	}

	m.handler, err = H.NewHandler(H.HandlerOpts{
		Resolver:    m.resolver,
		Cache:       m.cache,
		Path:        cfg.Server.Path,
		CachePath:   cfg.Server.CachePath,
		HealthPath:  cfg.Server.HealthPath,
		SrcIPHeader: cfg.Server.SrcIPHeader,
		Logger:      m.logger.Named("http"),
	})
	if err != nil {
		return fmt.Errorf("failed to init http handler, %w", err)
	}
	return nil
}

// RunLocres starts the servers configured in cfg and blocks until one
// of them fails or ctx is done.
func RunLocres(ctx context.Context, cfg *Config) error {
	lg, err := mlog.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	m, err := NewLocres(cfg, lg)
	if err != nil {
		return err
	}
	defer m.Close()

	if mc, ok := m.backend.(*mem_cache.MemCache); ok && len(cfg.Cache.DumpFile) > 0 {
		n, err := loadDump(mc, cfg.Cache.DumpFile)
		if err != nil {
			lg.Warn("failed to load cache dump", zap.String("file", cfg.Cache.DumpFile), zap.Error(err))
		} else {
			lg.Info("cache dump loaded", zap.String("file", cfg.Cache.DumpFile), zap.Int("keys", n))
		}
		interval := cfg.Cache.DumpInterval
		if interval <= 0 {
			interval = defaultDumpInterval
		}
		startDumpLoop(m.sc, mc, cfg.Cache.DumpFile, time.Duration(interval)*time.Second, lg)
	}

	m.httpAPIMux.Handle("/metrics", promhttp.HandlerFor(m.metricsReg, promhttp.HandlerOpts{}))
	m.httpAPIMux.HandleFunc("/debug/pprof/", pprof.Index)
	m.httpAPIMux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	m.httpAPIMux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	m.httpAPIMux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	m.httpAPIMux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	m.httpAPIMux.Handle("/", server.NewStdHandler(m.handler))

	if len(cfg.Server.Listen) == 0 && len(cfg.API.HTTP) == 0 {
		return errors.New("no server is configured")
	}

	if addr := cfg.Server.Listen; len(addr) > 0 {
		if err := m.startServer(addr, &cfg.Server); err != nil {
			return fmt.Errorf("failed to start location api server, %w", err)
		}
	}

	// Start http api server
	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		httpServer := &http.Server{
			Addr:              httpAddr,
			Handler:           m.httpAPIMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
			defer done()
			errChan := make(chan error, 1)
			go func() {
				m.logger.Info("starting api http server", zap.String("addr", httpAddr))
				errChan <- httpServer.ListenAndServe()
			}()
			select {
			case err := <-errChan:
				m.sc.SendCloseSignal(err)
			case <-closeSignal:
				httpServer.Close()
			}
		})
	}

	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		select {
		case <-ctx.Done():
			m.logger.Info("shutting down")
			m.sc.SendCloseSignal(nil)
		case <-closeSignal:
		}
	})

	<-m.sc.ReceiveCloseSignal()
	m.sc.Done()
	m.sc.CloseWait()
	return m.sc.Err()
}

func (m *Locres) startServer(addr string, cfg *ServerConfig) error {
	lc := net.ListenConfig{}
	l, err := lc.Listen(m.sc.Context(), "tcp", addr)
	if err != nil {
		return err
	}
	s := server.NewServer(server.ServerOpts{
		Logger:          m.logger.Named("server"),
		HttpHandler:     m.handler,
		IdleTimeout:     time.Duration(cfg.IdleTimeout) * time.Second,
		ShutdownTimeout: time.Duration(cfg.ShutdownTimeout) * time.Second,
	})
	m.sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		errChan := make(chan error, 1)
		go func() {
			errChan <- s.ServeHTTP(l)
		}()
		select {
		case err := <-errChan:
			m.sc.SendCloseSignal(err)
		case <-closeSignal:
			s.Close()
		}
	})
	return nil
}

// Close stops the servers and releases the cache backend and the http
// client. It is safe to call Close on a partially built Locres.
func (m *Locres) Close() error {
	m.sc.Done()
	m.sc.CloseWait()
	if m.client != nil {
		m.client.Close()
	}
	if m.backend != nil {
		return m.backend.Close()
	}
	return nil
}

func (m *Locres) GetResolver() *resolver.Resolver {
	return m.resolver
}

func (m *Locres) GetCache() *loccache.Cache {
	return m.cache
}

func (m *Locres) GetSafeClose() *safe_close.SafeClose {
	return m.sc
}

func (m *Locres) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix("locres_", m.metricsReg)
}

func (m *Locres) GetHTTPAPIMux() *http.ServeMux {
	return m.httpAPIMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}
