package database

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MigrationsDir is the directory inside the embedded filesystem.
const MigrationsDir = "migrations"

func init() {
	goose.SetBaseFS(migrations)
}

// Migrate runs a goose command against the embedded migrations.  Supported
// commands are up, down, status and version.
func Migrate(db *sql.DB, command string) error {
	if err := goose.SetDialect("mysql"); err != nil {
		return err
	}
	switch command {
	case "up":
		return goose.Up(db, MigrationsDir)
	case "down":
		return goose.Down(db, MigrationsDir)
	case "status":
		return goose.Status(db, MigrationsDir)
	case "version":
		return goose.Version(db, MigrationsDir)
	}
	return fmt.Errorf("unknown migrate command %q (use up, down, status, version)", command)
}
