package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // SQLite driver

	jobcoresql "github.com/rezkam/jobcore/internal/storage/sql"
)

func main() {
	var (
		driver = flag.String("driver", "pgx", `SQL driver: "pgx" or "sqlite"`)
		dsn    = flag.String("dsn", "", "database DSN (required)")
		cmd    = flag.String("command", "up", "goose command: up, down, status, version")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("-dsn is required")
	}

	dialect := "sqlite3"
	if *driver == "pgx" {
		dialect = "postgres"
	}

	db, err := sql.Open(*driver, *dsn)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := goose.SetDialect(dialect); err != nil {
		log.Fatalf("set goose dialect: %v", err)
	}
	goose.SetBaseFS(jobcoresql.Migrations)

	if err := runGoose(db, *cmd); err != nil {
		log.Fatalf("migrate %s: %v", *cmd, err)
	}
}

func runGoose(db *sql.DB, command string) error {
	switch command {
	case "up":
		return goose.Up(db, "migrations")
	case "down":
		return goose.Down(db, "migrations")
	case "status":
		return goose.Status(db, "migrations")
	case "version":
		_, err := goose.GetDBVersion(db)
		return err
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}
