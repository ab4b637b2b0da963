package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/api"
	"github.com/dokzlo13/stripd/internal/config"
)

// APIService wraps the REST server.
type APIService struct {
	cfg     *config.Config
	Handler *api.Handler
	server  *api.Server
}

// NewAPIService creates the handler and server.
func NewAPIService(cfg *config.Config, deps api.Deps) *APIService {
	handler := api.NewHandler(deps)
	server := api.NewServer(cfg.API.GetHost(), cfg.API.GetPort(), handler.Router())
	return &APIService{
		cfg:     cfg,
		Handler: handler,
		server:  server,
	}
}

// Run serves until ctx is cancelled.
func (s *APIService) Run(ctx context.Context) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("API server disabled")
		return
	}
	if err := s.server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
		log.Error().Err(err).Msg("API server error")
	}
}
