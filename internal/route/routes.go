package route

import (
	"net/http"

	"facefinder/internal/config"
	"facefinder/internal/handler"
	"facefinder/internal/logger"
	"facefinder/internal/middleware"
	"facefinder/internal/service"
)

// SetupRoutes registers the API endpoints and wraps the mux with the
// signature middleware.
func SetupRoutes(ctrl *service.Controller, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", handler.HealthHandler())
	mux.HandleFunc("/api/models", handler.ModelsHandler(ctrl, logger))
	mux.HandleFunc("/api/model/load", handler.LoadModelHandler(ctrl, logger))

	mux.HandleFunc("/api/processing/start", handler.StartHandler(ctrl, logger))
	mux.HandleFunc("/api/processing/stop", handler.StopHandler(ctrl, logger))

	mux.HandleFunc("/api/status", handler.StatusHandler(ctrl, logger))
	mux.HandleFunc("/api/results", handler.ResultsHandler(ctrl, logger))
	mux.HandleFunc("/api/progress", handler.ProgressHandler(ctrl))
	mux.HandleFunc("/api/export", handler.ExportHandler(ctrl, logger))
	mux.HandleFunc("/api/history", handler.HistoryHandler(ctrl, logger))

	// Live event surfaces
	mux.HandleFunc("/api/stream/", handler.StreamHandler(ctrl, cfg, logger))
	mux.HandleFunc("/api/ws", handler.WebsocketHandler(ctrl, logger))

	return middleware.SignatureMiddleware(cfg.SigningKey, mux)
}
