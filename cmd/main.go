package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Zoro-chi/FoodOrderingApp/app"
	"github.com/Zoro-chi/FoodOrderingApp/config"
	"github.com/Zoro-chi/FoodOrderingApp/logging"
)

func main() {
	config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "text").WithError(err).Fatal("invalid configuration")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if config.GetEnv(gin.EnvGinMode, "") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	runErr := a.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		log.WithError(err).Warn("backend close failed")
	}
	if runErr != nil {
		log.WithError(runErr).Fatal("server stopped")
	}
}
