// Package db opens the relational store and brings the schema up to date.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pocketbase/dbx"
	"github.com/pressly/goose/v3"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
	_ "github.com/cadenza-av/cadenza/db/migrations"
)

//go:embed migrations/*.go
var embedMigrations embed.FS

// resourceAttributeColumns are the typed columns reconciled onto the
// resource table after migrations run. The applied set is persisted so later
// versions only add what is missing.
var resourceAttributeColumns = map[string]string{
	"protocol_info":     "varchar(255)",
	"size":              "integer",
	"duration":          "varchar(32)",
	"bitrate":           "integer",
	"resolution":        "varchar(32)",
	"sample_frequency":  "integer",
	"nr_audio_channels": "integer",
	"language":          "varchar(32)",
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context) (*dbx.DB, error) {
	driver := conf.Server.Database.Driver
	path := conf.Server.Database.Path
	if path == "" {
		path = filepath.Join(conf.Server.DataFolder, "cadenza.db?cache=shared&_busy_timeout=15000&_journal_mode=WAL&_foreign_keys=on")
	}

	db, err := dbx.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == "sqlite3" {
		// keep the handle exclusive, writes are serialized through one
		// connection
		db.DB().SetMaxOpenConns(1)
	}

	if err := migrate(ctx, db.DB()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, sqlDB *sql.DB) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(gooseLogger{})
	if err := goose.SetDialect(conf.Server.Database.Driver); err != nil {
		return fmt.Errorf("setting migration dialect: %w", err)
	}
	if err := goose.UpContext(ctx, sqlDB, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return reconcileResourceColumns(ctx, sqlDB)
}

// reconcileResourceColumns adds a typed column per known resource attribute
// when absent and records the applied set in the internal settings.
func reconcileResourceColumns(ctx context.Context, sqlDB *sql.DB) error {
	rows, err := sqlDB.QueryContext(ctx, `PRAGMA table_info("resource")`)
	if err != nil {
		return fmt.Errorf("inspecting resource table: %w", err)
	}
	defer rows.Close()

	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &primaryKey); err != nil {
			return err
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var applied []string
	for column, columnType := range resourceAttributeColumns {
		if existing[column] {
			applied = append(applied, column)
			continue
		}
		stmt := fmt.Sprintf(`ALTER TABLE "resource" ADD COLUMN %q %s`, column, columnType)
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding resource column %q: %w", column, err)
		}
		log.Info(ctx, "Added resource attribute column", "column", column)
		applied = append(applied, column)
	}

	_, err = sqlDB.ExecContext(ctx,
		`INSERT INTO "internal_setting" ("key", "value") VALUES ('resource_attributes', ?)
		 ON CONFLICT("key") DO UPDATE SET "value" = excluded."value"`,
		strings.Join(applied, ","))
	return err
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) { log.Fatal(fmt.Sprintf(format, v...)) }
func (gooseLogger) Printf(format string, v ...any) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
