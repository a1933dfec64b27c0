// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/dlmiddlecote/sqlstats"
	"github.com/go-gorp/gorp"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sapcc/go-bits/easypg"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
)

// Wrapper around gorp.DbMap that adds some convenience functions.
type DB struct {
	*gorp.DbMap
	DBConfig conf.DBConfig

	monitor Monitor
}

type Table interface {
	TableName() string
}

// Create a new postgres database and wait until it is connected.
func NewPostgresDB(ctx context.Context, c conf.DBConfig, registry *monitoring.Registry, monitor Monitor) DB {
	stripYaml := func(s string) string { return strings.ReplaceAll(s, "\n", "") }
	dbURL, err := easypg.URLFrom(easypg.URLParts{
		HostName:          stripYaml(c.Host),
		Port:              stripYaml(c.Port),
		UserName:          stripYaml(c.User),
		Password:          stripYaml(c.Password),
		ConnectionOptions: "sslmode=disable",
		DatabaseName:      stripYaml(c.Database),
	})
	if err != nil {
		panic(err)
	}
	slog.Info("connecting to database", "host", c.Host, "database", c.Database)
	db, err := sql.Open("postgres", dbURL.String())
	if err != nil {
		panic(err)
	}

	retryInterval := time.Duration(c.Reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval == 0 {
		retryInterval = time.Second
	}
	maxRetries := c.Reconnect.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	var sqlDB *sql.DB
	for i := range maxRetries {
		monitor.observeConnectionAttempt(c)
		err := db.PingContext(ctx)
		if err == nil {
			sqlDB = db
			break
		}
		if i == maxRetries-1 {
			panic("giving up connecting to database")
		}
		slog.Error("failed to connect to database, retrying...", "error", err)
		select {
		case <-ctx.Done():
			panic("context canceled while connecting to database")
		case <-time.After(retryInterval):
		}
	}

	sqlDB.SetMaxOpenConns(16)
	if registry != nil {
		registry.MustRegister(sqlstats.NewStatsCollector(c.Database, sqlDB))
	}
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.PostgresDialect{}}
	slog.Info("database is ready")
	return DB{DbMap: dbMap, DBConfig: c, monitor: monitor}
}

// Periodically ping the database to check if it is still alive, and
// reconnect if the connection was lost. Should be run in a goroutine.
func (d *DB) CheckLivenessPeriodically(ctx context.Context) {
	interval := time.Duration(d.DBConfig.Reconnect.LivenessPingIntervalSeconds) * time.Second
	if interval == 0 {
		interval = 30 * time.Second
	}
	retryInterval := time.Duration(d.DBConfig.Reconnect.RetryIntervalSeconds) * time.Second
	if retryInterval == 0 {
		retryInterval = time.Second
	}
	maxRetries := d.DBConfig.Reconnect.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("db: liveness check stopping")
			return
		case <-ticker.C:
			if err := d.Db.PingContext(ctx); err == nil {
				continue
			}
			slog.Error("db: lost connection, reconnecting...")
			for i := range maxRetries {
				d.monitor.observeConnectionAttempt(d.DBConfig)
				err := d.Db.PingContext(ctx)
				if err == nil {
					slog.Info("db: reconnected")
					break
				}
				if i == maxRetries-1 {
					panic("giving up reconnecting to database")
				}
				slog.Error("db: failed to reconnect, retrying...", "error", err)
				time.Sleep(retryInterval)
			}
		}
	}
}

// Adds missing functionality to gorp.DbMap which creates one table.
func (d *DB) CreateTable(table ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		slog.Error("failed to begin transaction", "error", err)
		return err
	}
	for _, t := range table {
		slog.Info("creating table", "table", t.TableName)
		sql := t.SqlForCreate(true) // true means to add IF NOT EXISTS
		if _, err := tx.Exec(sql); err != nil {
			return tx.Rollback()
		}
	}
	return tx.Commit()
}

// Adds a Model table to the database.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	slog.Info("adding table", "table", t.TableName())
	return d.AddTableWithName(t, t.TableName())
}

// Check if a table exists in the database.
func (d *DB) TableExists(t Table) bool {
	var query string
	switch d.Dialect.(type) {
	case gorp.SqliteDialect:
		// Sqlite is used in tests and has no information schema.
		query = `SELECT EXISTS (
			SELECT 1
			FROM   sqlite_master
			WHERE  type = 'table' AND name = :table_name
		);`
	default:
		query = `SELECT EXISTS (
			SELECT 1
			FROM   information_schema.tables
			WHERE  table_name = :table_name
		);`
	}
	var exists bool
	err := d.SelectOne(&exists, query, map[string]any{"table_name": t.TableName()})
	if err != nil {
		slog.Error("failed to check if table exists", "error", err)
		return false
	}
	return exists
}

// Run a SELECT query and observe how long it takes to run.
//
// The group is used as a metric label so that slow queries can be
// attributed to the part of the service that issued them.
func (d *DB) SelectTimed(group string, i any, query string, args ...any) ([]any, error) {
	if d.monitor.selectTimer == nil {
		return d.Select(i, query, args...)
	}
	timer := prometheus.NewTimer(d.monitor.selectTimer.WithLabelValues(group, query))
	defer timer.ObserveDuration()
	return d.Select(i, query, args...)
}

// Run a SELECT query returning one row and observe how long it takes to run.
func (d *DB) SelectOneTimed(group string, holder any, query string, args ...any) error {
	if d.monitor.selectTimer == nil {
		return d.SelectOne(holder, query, args...)
	}
	timer := prometheus.NewTimer(d.monitor.selectTimer.WithLabelValues(group, query))
	defer timer.ObserveDuration()
	return d.SelectOne(holder, query, args...)
}

// Convenience function to the database connection.
func (d *DB) Close() {
	if err := d.DbMap.Db.Close(); err != nil {
		slog.Error("failed to close database connection", "error", err)
	}
}

// Database or transaction that supports update and insert methods.
type upsertable interface {
	Update(list ...any) (int64, error)
	Insert(list ...any) error
}

// Upsert a model into the database (Insert if possible, otherwise Update).
func Upsert(u upsertable, model any) error {
	if err := u.Insert(model); err != nil {
		if strings.Contains(err.Error(), "duplicate key value violates unique constraint") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			if _, err := u.Update(model); err != nil {
				return err
			}
			return nil
		}
		return err
	}
	return nil
}

// Replace the complete contents of the objects table within a transaction.
func ReplaceAll[O Table](d DB, objs ...O) error {
	var model O
	tx, err := d.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM " + model.TableName()); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	for _, obj := range objs {
		if err := tx.Insert(&obj); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}
