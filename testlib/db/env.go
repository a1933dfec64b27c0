// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
	"github.com/shopfloor-dev/foreman/testlib/containers"
)

type DBEnv struct {
	*db.DB
	Close func()
}

func SetupDBEnv(t *testing.T) DBEnv {
	var env DBEnv
	// To run tests faster, the default is running with sqlite.
	if os.Getenv("POSTGRES_CONTAINER") == "1" {
		slog.Info("Using real postgres container")
		container := containers.PostgresContainer{}
		container.Init(t)
		db := db.NewPostgresDB(context.Background(), conf.DBConfig{
			Host:     "localhost",
			Port:     container.GetPort(),
			User:     "postgres",
			Password: "secret",
			Database: "postgres",
		}, nil, db.Monitor{})
		env.DB = &db
		env.Close = func() {
			env.DB.Close()
			container.Close()
		}
	} else {
		slog.Info("Using sqlite")
		tmpDir := t.TempDir()
		sqlDB, err := sql.Open("sqlite3", tmpDir+"/test.db")
		if err != nil {
			t.Fatal(err)
		}
		env.DB = &db.DB{}
		env.DB.DbMap = &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
		env.Close = func() {
			env.DB.Close()
		}
	}
	env.DB.DbMap.TraceOn("[gorp]", log.New(os.Stdout, "foreman:", log.Lmicroseconds))
	return env
}
