package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/iliyamo/library-reservation/internal/config"
	"github.com/iliyamo/library-reservation/internal/database"
)

func main() {
	command := flag.String("command", "up", "Migration command: up, down, status, version")
	flag.Parse()

	config.LoadDotEnv()
	cfg := config.Load()
	if cfg.StoreDriver != config.StoreMySQL {
		log.Fatalf("migrations need STORE_DRIVER=%s, got %q", config.StoreMySQL, cfg.StoreDriver)
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(db, *command); err != nil {
		log.Fatalf("migrate %s: %v", *command, err)
	}
	if *command == "up" || *command == "down" {
		fmt.Printf("migrate %s: done\n", *command)
	}
}
