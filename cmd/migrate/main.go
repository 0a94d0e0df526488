// Command migrate applies or inspects the riskguard schema.
//
// The migrations compiled into the binary are used unless -dir points at a
// directory of goose SQL files:
//
//	migrate up            apply every pending migration
//	migrate down          roll back the last migration
//	migrate status        list applied and pending migrations
//	migrate version       print the current schema version
//	migrate redo          roll back and re-apply the last migration
//	migrate up-to 1       migrate to a specific version
//	migrate -dir ./migrations status
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/riskguard/riskguard/internal/logging"
	"github.com/riskguard/riskguard/migrations"
)

func main() {
	dir := flag.String("dir", "", "directory of goose SQL migrations (default: embedded)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [-dir path] <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, dsn, *dir, flag.Arg(0), flag.Args()[1:], logger); err != nil {
		logger.Error("migration failed", "command", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, dsn, dir, command string, args []string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	var fsys fs.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	logger.Info("running migration", "command", command, "source", source(dir))
	return migrations.Run(ctx, db, fsys, logger, command, args...)
}

func source(dir string) string {
	if dir == "" {
		return "embedded"
	}
	return dir
}
