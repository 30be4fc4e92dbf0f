package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
)

// Applies the SQL migrations under migrations/postgres (ordered .up.sql
// files, tracked in schema_migrations) and the ClickHouse DDL under
// migrations/clickhouse.
func main() {
	dir := flag.String("dir", "migrations", "Directory holding postgres/ and clickhouse/ migration files")
	dryRun := flag.Bool("dry-run", false, "Print migration SQL without executing it")
	skipClickHouse := flag.Bool("skip-clickhouse", false, "Apply postgres migrations only")
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logger.NewLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := migratePostgres(ctx, cfg, *dir, *dryRun); err != nil {
		logger.Fatalw("postgres migration failed", "error", err)
	}
	logger.Info("postgres migrations applied")

	if !*skipClickHouse {
		if err := migrateClickHouse(ctx, cfg, *dir, *dryRun); err != nil {
			logger.Fatalw("clickhouse migration failed", "error", err)
		}
		logger.Info("clickhouse migrations applied")
	}

	fmt.Println("Migration process completed")
}

func migratePostgres(ctx context.Context, cfg *config.Configuration, dir string, dryRun bool) error {
	files, err := sqlFiles(filepath.Join(dir, "postgres"), ".up.sql")
	if err != nil {
		return err
	}

	if dryRun {
		return printFiles(files)
	}

	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    varchar(255) PRIMARY KEY,
			applied_at timestamptz NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for _, f := range files {
		version := strings.TrimSuffix(filepath.Base(f), ".up.sql")

		var applied bool
		if err := db.GetContext(ctx, &applied,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version); err != nil {
			return fmt.Errorf("check migration %s: %w", version, err)
		}
		if applied {
			continue
		}

		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", version, err)
		}
	}

	return nil
}

func migrateClickHouse(ctx context.Context, cfg *config.Configuration, dir string, dryRun bool) error {
	files, err := sqlFiles(filepath.Join(dir, "clickhouse"), ".sql")
	if err != nil {
		return err
	}

	if dryRun {
		return printFiles(files)
	}

	conn, err := clickhouse_go.Open(cfg.ClickHouse.GetClientOptions())
	if err != nil {
		return fmt.Errorf("connect to clickhouse: %w", err)
	}
	defer conn.Close()

	// The DDL files are idempotent (CREATE TABLE IF NOT EXISTS); each file
	// holds one statement because the native protocol rejects batches.
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if err := conn.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", f, err)
		}
	}

	return nil
}

func sqlFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migration dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func printFiles(files []string) error {
	for _, f := range files {
		body, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		fmt.Printf("-- %s\n%s\n", f, body)
	}
	return nil
}
