package ch

import (
	"database/sql"
	"fmt"

	_ "github.com/ClickHouse/clickhouse-go/v2" // registers the "clickhouse" database/sql driver
	"github.com/pressly/goose/v3"
)

// OpenMigrationDB opens a database/sql handle for goose and selects the clickhouse dialect
func OpenMigrationDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := goose.SetDialect("clickhouse"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set dialect: %w", err)
	}
	return db, nil
}

// MigrateUp applies every pending migration from dir
func MigrateUp(dsn, dir string) error {
	db, err := OpenMigrationDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
