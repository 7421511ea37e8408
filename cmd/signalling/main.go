package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lmittmann/tint"

	"github.com/maelsh/dueli-broadcast/internal/competition"
	"github.com/maelsh/dueli-broadcast/internal/config"
	"github.com/maelsh/dueli-broadcast/internal/domain"
	"github.com/maelsh/dueli-broadcast/internal/registry"
	"github.com/maelsh/dueli-broadcast/internal/repository/memory"
	"github.com/maelsh/dueli-broadcast/internal/server"
	"github.com/maelsh/dueli-broadcast/internal/session"
)

func main() {
	configDir := flag.String("config", "./conf", "directory containing broadcast.yaml")
	competitionAPI := flag.String("competition-api", "", "base URL of the competition backend (in-memory store when empty)")
	flag.Parse()

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	})))

	manager, err := config.NewManager(*configDir)
	if err != nil {
		log.Fatal(err)
	}
	cfg := manager.Get()

	var competitions domain.CompetitionService
	if *competitionAPI != "" {
		competitions = competition.NewHTTPService(*competitionAPI, 10*time.Second)
	} else {
		slog.Warn("no competition backend configured, using in-memory store")
		competitions = competition.NewMemoryService()
	}

	reg := registry.New(memory.NewRoomRepository())
	lifecycle := session.NewLifecycle(competitions, reg, cfg.Upload.Endpoint)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	srv := server.NewServer(cfg.Server, app, reg, lifecycle)
	defer srv.Close()
	srv.SetupRoutes()

	if cfg.Server.TLSCrtFile != nil && cfg.Server.TLSKeyFile != nil {
		slog.Info("running TLS http server", "port", cfg.Server.Port)
		log.Fatal(app.ListenTLS(":"+strconv.Itoa(cfg.Server.Port), *cfg.Server.TLSCrtFile, *cfg.Server.TLSKeyFile))
	} else {
		slog.Info("running http server", "port", cfg.Server.Port)
		log.Fatal(app.Listen(":" + strconv.Itoa(cfg.Server.Port)))
	}
}
