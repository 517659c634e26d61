package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/JaimeStill/sitegraph/internal/config"
	"github.com/JaimeStill/sitegraph/internal/infrastructure"
	"github.com/JaimeStill/sitegraph/internal/service"
)

// Server runs the engine, the review verdict listener, and the ops listener.
type Server struct {
	cfg    *config.Config
	infra  *infrastructure.Infrastructure
	domain *service.Domain
	http   *httpServer
}

func NewServer(cfg *config.Config) (*Server, error) {
	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	domain, err := service.NewDomain(cfg, infra, reg)
	if err != nil {
		return nil, err
	}

	router := buildRouter(infra, reg)

	infra.Logger.Info(
		"server initialized",
		"addr", cfg.Server.Addr(),
		"env", cfg.Env(),
	)

	return &Server{
		cfg:    cfg,
		infra:  infra,
		domain: domain,
		http:   newHTTPServer(&cfg.Server, router, cfg.ShutdownTimeoutDuration(), infra.Logger),
	}, nil
}

func (s *Server) Start() error {
	s.infra.Logger.Info("starting service")

	if err := s.infra.Start(); err != nil {
		return err
	}

	if err := s.http.Start(s.infra.Lifecycle); err != nil {
		return err
	}

	if err := s.infra.Lifecycle.WaitForStartup(); err != nil {
		return err
	}
	s.infra.Logger.Info("all subsystems ready")

	return s.domain.Start(s.infra.Lifecycle, true, s.cfg.ShutdownTimeoutDuration())
}

func (s *Server) Shutdown(timeout time.Duration) error {
	s.infra.Logger.Info("initiating shutdown")
	return s.infra.Lifecycle.Shutdown(timeout)
}
