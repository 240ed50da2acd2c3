// Command seed loads a menu file into the configured backend.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Zoro-chi/FoodOrderingApp/app"
	"github.com/Zoro-chi/FoodOrderingApp/config"
	"github.com/Zoro-chi/FoodOrderingApp/logging"
	"github.com/Zoro-chi/FoodOrderingApp/seed"
)

func main() {
	file := flag.String("file", "menu.yaml", "menu file to load")
	flag.Parse()

	config.LoadEnv()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if cfg.Backend == config.BackendMemory {
		log.Warn("seeding the in-memory backend has no lasting effect")
	}

	menu, err := seed.LoadFile(*file)
	if err != nil {
		log.WithError(err).WithField("file", *file).Fatal("menu not loaded")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	be, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("backend not available")
	}
	defer be.Close(context.Background())

	res, err := seed.Apply(ctx, be, menu, log)
	if err != nil {
		log.WithError(err).Error("seed failed")
		return
	}
	log.WithFields(logrus.Fields{
		"products": res.Products,
		"skipped":  res.SkippedProducts,
		"profiles": res.Profiles,
	}).Info("seed complete")
}
