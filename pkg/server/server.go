package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aigoflow/analytics-service/internal/handlers"
	"github.com/aigoflow/analytics-service/internal/services"
)

type Server struct {
	httpAddr     string
	queryService *services.QueryService
}

func NewServer(httpAddr string, queryService *services.QueryService) *Server {
	return &Server{
		httpAddr:     httpAddr,
		queryService: queryService,
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	queryHandler := handlers.NewQueryHandler(s.queryService)
	queryHandler.RegisterRoutes(mux)

	slog.Info("HTTP server starting",
		"addr", s.httpAddr,
		"endpoints", []string{"/v1/query", "/v1/requests", "/healthz", "/logs"})

	return http.ListenAndServe(s.httpAddr, mux)
}
