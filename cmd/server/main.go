package main

import (
	"log"

	"github.com/joho/godotenv"

	"facefinder/internal/app"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	a, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	if err := a.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
