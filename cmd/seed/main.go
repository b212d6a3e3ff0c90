package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/iliyamo/library-reservation/internal/config"
	"github.com/iliyamo/library-reservation/internal/database"
	"github.com/iliyamo/library-reservation/internal/logging"
	"github.com/iliyamo/library-reservation/internal/repository"
	"github.com/iliyamo/library-reservation/internal/seed"
)

func main() {
	config.LoadDotEnv()
	sc := config.LoadSeedConfig()

	var (
		email    = flag.String("email", sc.AdminEmail, "admin email (ADMIN_EMAIL)")
		password = flag.String("password", sc.AdminPassword, "admin password (ADMIN_PASSWORD)")
		username = flag.String("username", sc.AdminUsername, "admin username (ADMIN_USERNAME)")
		sample   = flag.Bool("sample", sc.Sample, "load the sample catalog when it is empty")
	)
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if cfg.StoreDriver != config.StoreMySQL {
		log.Fatalf("seeding needs STORE_DRIVER=%s; the memory store seeds itself on start", config.StoreMySQL)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	err = seed.Run(ctx, seed.Stores{
		Users:  repository.NewUserRepo(db),
		Genres: repository.NewGenreRepo(db),
		Books:  repository.NewBookRepo(db),
	}, seed.Options{
		AdminEmail:    *email,
		AdminPassword: *password,
		AdminUsername: *username,
		BcryptCost:    cfg.BcryptCost,
		SampleCatalog: *sample,
	}, logger)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
}
