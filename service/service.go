package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-testexec/metrics"
)

type Config struct {
	HealthzEnabled bool
	HealthzAddr    string

	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

type Service struct {
	Config  Config
	Healthz *HealthzServer
	Metrics *MetricsServer
	log     log.Logger
}

func New(cfg Config, status StatusProvider, logger log.Logger) *Service {
	return &Service{
		Config:  cfg,
		Healthz: NewHealthzServer(status),
		Metrics: &MetricsServer{},
		log:     logger,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if s.Config.HealthzEnabled {
		addr := s.Config.HealthzAddr
		s.log.Info("starting healthz server", "addr", addr)
		go func() {
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if s.Config.MetricsEnabled {
		addr := net.JoinHostPort(s.Config.MetricsHost, strconv.Itoa(s.Config.MetricsPort))
		s.log.Info("starting metrics server", "addr", addr)
		go func() {
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting metrics server", "err", err)
				metrics.RecordErrorDetails("error starting metrics server", err)
			}
		}()
	}

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")
	if s.Config.HealthzEnabled {
		_ = s.Healthz.Shutdown()
		s.log.Info("healthz stopped")
	}
	if s.Config.MetricsEnabled {
		_ = s.Metrics.Shutdown()
		s.log.Info("metrics stopped")
	}
	s.log.Info("service stopped")
}
