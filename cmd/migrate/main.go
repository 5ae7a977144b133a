// Command migrate applies or rolls back the schema using goose, reading
// the embedded migration files from internal/db/migrations.
package main

import (
	"database/sql"
	"embed"
	"flag"
	"fmt"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed all:../../internal/db/migrations/*.sql
var embedMigrations embed.FS

func main() {
	direction := flag.String("direction", "up", "up | down | status")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres connection string")
	flag.Parse()

	if *dsn == "" {
		fmt.Fprintln(os.Stderr, "migrate: -dsn or DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: open: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}

	migrationsDir := "../../internal/db/migrations"
	var runErr error
	switch *direction {
	case "up":
		runErr = goose.Up(db, migrationsDir)
	case "down":
		runErr = goose.Down(db, migrationsDir)
	case "status":
		runErr = goose.Status(db, migrationsDir)
	default:
		fmt.Fprintf(os.Stderr, "migrate: unknown direction %q\n", *direction)
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", runErr)
		os.Exit(1)
	}
}
