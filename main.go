package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
	"github.com/sutto4/ccc-sub004/internal/pkg/config"
	"github.com/sutto4/ccc-sub004/internal/pkg/env"
	"github.com/sutto4/ccc-sub004/internal/pkg/router"
)

func main() {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err == nil {
		err = cfg.RequireAPITokens()
	}
	if err != nil {
		log.Fatal(err)
	}

	services, err := bootstrap.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer services.Close()

	app := NewApplication(services)
	services.Jobs.Start()
	services.Health.Start(bootstrap.HealthInterval)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Info("[Server] shutting down")
		if err := app.Shutdown(); err != nil {
			log.Errorf("[Server] shutdown: %v", err)
		}
	}()

	if err := app.Listen(cfg.Addr()); err != nil {
		log.Errorf("[Server] %v", err)
	}
}

func NewApplication(services *bootstrap.Services) *fiber.App {
	app := fiber.New(bootstrap.NewFiberConfig())
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, services.RouterDependencies())

	return app
}
