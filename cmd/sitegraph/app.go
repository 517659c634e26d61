package main

import (
	"github.com/JaimeStill/sitegraph/internal/config"
	"github.com/JaimeStill/sitegraph/internal/infrastructure"
	"github.com/JaimeStill/sitegraph/internal/orchestrator"
	"github.com/JaimeStill/sitegraph/internal/service"
)

type app struct {
	cfg    *config.Config
	infra  *infrastructure.Infrastructure
	domain *service.Domain
}

// open starts the infrastructure and the engine without recovery or the
// verdict listener; a running server owns both.
func open() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	infra, err := infrastructure.New(cfg)
	if err != nil {
		return nil, err
	}

	domain, err := service.NewDomain(cfg, infra, nil)
	if err != nil {
		return nil, err
	}

	if err := infra.Start(); err != nil {
		return nil, err
	}
	if err := infra.Lifecycle.WaitForStartup(); err != nil {
		infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
		return nil, err
	}
	if err := domain.Start(infra.Lifecycle, false, cfg.ShutdownTimeoutDuration()); err != nil {
		infra.Lifecycle.Shutdown(cfg.ShutdownTimeoutDuration())
		return nil, err
	}

	return &app{cfg: cfg, infra: infra, domain: domain}, nil
}

func (a *app) orchestrator() orchestrator.System {
	return a.domain.Orchestrator
}

// close stops the engine; runs still advancing stay running and are
// recovered by the server.
func (a *app) close() error {
	return a.infra.Lifecycle.Shutdown(a.cfg.ShutdownTimeoutDuration())
}
