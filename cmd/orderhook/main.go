package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/OrderHook/app/controllers"
	"github.com/ManuelReschke/OrderHook/internal/pkg/audit"
	"github.com/ManuelReschke/OrderHook/internal/pkg/billing"
	"github.com/ManuelReschke/OrderHook/internal/pkg/cache"
	"github.com/ManuelReschke/OrderHook/internal/pkg/database"
	"github.com/ManuelReschke/OrderHook/internal/pkg/env"
	"github.com/ManuelReschke/OrderHook/internal/pkg/idempotency"
	"github.com/ManuelReschke/OrderHook/internal/pkg/lock"
	"github.com/ManuelReschke/OrderHook/internal/pkg/orderflow"
	"github.com/ManuelReschke/OrderHook/internal/pkg/router"
	"github.com/ManuelReschke/OrderHook/internal/pkg/webhook"
)

func main() {
	app, closers := NewApplication()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Info("[Server] shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Errorf("[Server] shutdown: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	for _, c := range closers {
		if cerr := c(); cerr != nil {
			log.Warnf("[Server] close: %v", cerr)
		}
	}
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, []func() error) {
	env.SetupEnvFile()
	database.SetupDatabase()

	var closers []func() error

	// webhook pipeline
	registry := webhook.NewRegistry()
	if err := billing.RegisterFromEnv(registry); err != nil {
		panic(err)
	}

	sinks := audit.Multi{audit.LogSink{}}
	if k := audit.NewKafkaSinkFromEnv(); k != nil {
		sinks = append(sinks, k)
		closers = append(closers, k.Close)
	}
	archiveCfg, err := audit.LoadArchiveConfig()
	if err != nil {
		panic(err)
	}
	if archiveCfg.Enabled {
		archive, err := audit.NewS3Archive(archiveCfg)
		if err != nil {
			panic(err)
		}
		sinks = append(sinks, archive)
		closers = append(closers, archive.Close)
	}

	processor := webhook.NewProcessor(
		registry,
		idempotency.NewStoreFromDB(database.GetDB()),
		orderflow.NewStateMachineFromDB(database.GetDB()),
		newLocker(),
		sinks,
		webhook.ConfigFromEnv(),
	)
	controllers.InitializeWebhookController(processor, env.GetEnvSeconds("WEBHOOK_TIMEOUT_SECONDS", 15*time.Second))

	checks := map[string]controllers.HealthCheck{
		"database": func(context.Context) error { return database.Ping() },
	}
	if useRedisLock() {
		checks["redis"] = cache.Ping
		closers = append(closers, cache.Close)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "OrderHook",
		BodyLimit: env.GetEnvInt("WEBHOOK_BODY_LIMIT_BYTES", 1<<20),
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	// ROUTER
	router.InstallRouter(app,
		router.NewHttpRouter(checks),
		router.NewApiRouter(controllers.GetWebhookController()),
	)

	return app, closers
}

func useRedisLock() bool {
	return env.GetEnv("LOCK_BACKEND", "redis") != "local"
}

func newLocker() lock.Locker {
	if !useRedisLock() {
		log.Warn("[Lock] using in-process locks, do not run more than one instance")
		return lock.NewLocal()
	}
	cache.SetupCache()
	return lock.NewRedis(cache.GetClient(), env.GetEnvSeconds("WEBHOOK_LOCK_TTL_SECONDS", lock.DefaultTTL))
}
