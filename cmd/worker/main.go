package main

import (
	"flag"
	"os"

	"facefinder/internal/detector"
	"facefinder/internal/launcher"
	"facefinder/internal/logger"
	"facefinder/internal/media"
	"facefinder/internal/model"
	"facefinder/internal/pipeline"
	"facefinder/internal/worker"
)

func main() {
	family := flag.String("family", detector.FamilyGeneral, "detector family this worker provides")
	models := flag.String("models", "./models", "directory holding model weights")
	flag.Parse()

	// Stdout carries the wire protocol, so all logging goes to stderr.
	log := logger.NewStderrLogger()

	env := launcher.Resolve(*family, os.Getenv("ENV_ROOT"), *models)
	if env.Warning != "" {
		log.Warning("%s", env.Warning)
	}
	env.Apply()

	registry := detector.NewRegistry()
	registry.Register(env.Family, detector.NewDNNDetector(env.ModelsDir, env.Family, log))

	events := make(chan model.Event, 64)
	engine := pipeline.New(registry, media.OpenVideo, events, log)

	loop := worker.NewLoop(os.Stdin, os.Stdout, registry, engine, events, log)
	if err := loop.Run(); err != nil {
		log.Error("Worker loop failed: %v", err)
		os.Exit(1)
	}
}
