package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/backend/duckdb"
	"github.com/roach88/noctra/internal/backend/sqlite"
	"github.com/roach88/noctra/internal/config"
	"github.com/roach88/noctra/internal/executor"
	"github.com/roach88/noctra/internal/ir"
	"github.com/roach88/noctra/internal/session"
)

// openExecutor starts both backends from cfg and wires them into an
// executor. On failure nothing is left open.
func openExecutor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*executor.Executor, error) {
	rel, err := sqlite.Open(cfg.Relational.Path)
	if err != nil {
		return nil, fmt.Errorf("open relational store: %w", err)
	}
	files, err := duckdb.Open(duckdb.Options{Path: cfg.FileNative.Path, Threads: cfg.FileNative.Threads})
	if err != nil {
		_ = rel.Close()
		return nil, fmt.Errorf("open file engine: %w", err)
	}

	def, ok := backend.ParseID(cfg.DefaultBackend)
	if !ok {
		def = backend.SQLite
	}
	exec, err := executor.New(ctx, []backend.Backend{rel, files},
		executor.WithDefaultBackend(def),
		executor.WithLogger(logger),
	)
	if err != nil {
		_ = rel.Close()
		_ = files.Close()
		return nil, err
	}
	logger.Debug("executor ready", "relational", cfg.Relational.Path, "file_native", cfg.FileNative.Path, "default", def)
	return exec, nil
}

func newSession(cfg *config.Config) *session.Session {
	return session.New(session.WithHistoryLimit(cfg.Session.HistoryLimit))
}

// reportStatementError writes a core error in the configured format and
// returns the ExitError the command should fail with.
func reportStatementError(f *OutputFormatter, err error) error {
	if ferr := f.Error(string(ir.KindOf(err)), err.Error(), errorDetails(err)); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitFailure, "statement failed", err)
}

// errorDetails collects the positional and naming fields of a core error,
// or nil when it has none.
func errorDetails(err error) any {
	var e *ir.Error
	if !errors.As(err, &e) {
		return nil
	}
	details := map[string]any{}
	if e.Line > 0 {
		details["line"] = e.Line
		details["column"] = e.Column
	}
	if e.Name != "" {
		details["name"] = e.Name
	}
	if len(e.Owners) > 0 {
		details["owners"] = e.Owners
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
