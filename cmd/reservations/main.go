package main

import (
	"medslots/pkg/app"
	"medslots/pkg/config"
)

const ServiceName = "reservations"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting reservations service")

	application := app.NewApplication(cfg)
	if err := application.SetApp(); err != nil {
		cfg.GracefulShutdown()
		cfg.Log.Fatal("Failed to initialize application", "error", err)
	}
	application.Run()
}
