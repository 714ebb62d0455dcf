package app

import (
	"fmt"
	"net/http"
	"time"

	"facefinder/internal/config"
	"facefinder/internal/hub"
	"facefinder/internal/logger"
	"facefinder/internal/repository/sqlite"
	"facefinder/internal/route"
	"facefinder/internal/service"
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	hub        *hub.Hub
	controller *service.Controller
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	h := hub.New(cfg.EventQueueSize, time.Duration(cfg.EnqueueTimeoutMS)*time.Millisecond, log)
	history := sqlite.NewHistoryRepository(db)
	ctrl := service.NewController(cfg, h, history, log)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		hub:        h,
		controller: ctrl,
	}, nil
}

func (a *App) Run() error {
	defer a.shutdown()

	router := route.SetupRoutes(a.controller, a.config, a.logger)

	fmt.Printf("🚀 Face Detection Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🤖 Detector family: %s\n", a.config.DetectorFamily)
	fmt.Printf("📁 Models: %s\n", a.config.ModelsDir)

	a.logger.Info("Server listening on port %d", a.config.Port)
	return http.ListenAndServe(fmt.Sprintf(":%d", a.config.Port), router)
}

func (a *App) shutdown() {
	a.controller.Shutdown()
	a.db.Close()
}
