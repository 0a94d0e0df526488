// Package migrations embeds the goose SQL migrations so the server, the
// migrate command and integration tests all apply the same schema.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS

// goose keeps its dialect, base FS and logger in package globals.
var mu sync.Mutex

// Run executes a goose command ("up", "down", "status", "redo", "up-to 2",
// ...) against db using migrations from fsys. A nil fsys uses FS; a nil
// logger silences goose.
func Run(ctx context.Context, db *sql.DB, fsys fs.FS, logger *slog.Logger, command string, args ...string) error {
	mu.Lock()
	defer mu.Unlock()

	if fsys == nil {
		fsys = FS
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if logger == nil {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(gooseLogger{logger})
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}

// Up applies every pending embedded migration.
func Up(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return Run(ctx, db, nil, logger, "up")
}

type gooseLogger struct{ l *slog.Logger }

func (g gooseLogger) Printf(format string, v ...any) {
	g.l.Info(fmt.Sprintf(format, v...), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	g.l.Error(fmt.Sprintf(format, v...), "component", "goose")
}
