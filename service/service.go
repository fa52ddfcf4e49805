package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum-optimism/infra/op-blackbox/metrics"
	"github.com/ethereum/go-ethereum/log"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = "8080"

	MetricsHost = "0.0.0.0"
	MetricsPort = "7300"
)

// Config holds the listen addresses; an empty address disables that server.
type Config struct {
	HealthzAddr string
	MetricsAddr string
	Log         log.Logger
}

// DefaultConfig listens on the default healthz and metrics ports.
func DefaultConfig(logger log.Logger) Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, HealthzPort),
		MetricsAddr: net.JoinHostPort(MetricsHost, MetricsPort),
		Log:         logger,
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer

	cfg Config
	log log.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Log
	if logger == nil {
		logger = log.Root()
	}
	logger = logger.New("component", "service")
	s := &Service{
		Healthz: &HealthzServer{log: logger},
		Metrics: &MetricsServer{},
		cfg:     cfg,
		log:     logger,
	}
	return s
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	if addr := s.cfg.HealthzAddr; addr != "" {
		go func() {
			s.log.Info("starting healthz server", "addr", addr)
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("error starting healthz server", "err", err)
				metrics.RecordErrorDetails("error starting healthz server", err)
			}
		}()
	}

	if addr := s.cfg.MetricsAddr; addr != "" {
		go func() {
			s.log.Info("starting metrics server", "addr", addr)
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

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
