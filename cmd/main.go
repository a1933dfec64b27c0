// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sapcc/go-api-declarations/bininfo"
	"github.com/sapcc/go-bits/httpext"
	"github.com/sapcc/go-bits/must"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopfloor-dev/foreman/internal/api"
	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/campaigns"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/db"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/ingest"
	"github.com/shopfloor-dev/foreman/internal/machines"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
	"github.com/shopfloor-dev/foreman/internal/mqtt"
	"github.com/shopfloor-dev/foreman/internal/operators"
	"github.com/shopfloor-dev/foreman/internal/rescheduler"
	"github.com/shopfloor-dev/foreman/internal/scheduler"
	"github.com/shopfloor-dev/foreman/internal/shiftload"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

// How often the shift-load snapshot is recomputed from the store.
const shiftLoadInterval = 5 * time.Minute

// Run the prometheus metrics server for monitoring.
func runMonitoringServer(ctx context.Context, registry *monitoring.Registry, config conf.MonitoringConfig) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	slog.Info("metrics listening", "port", config.Port)
	addr := fmt.Sprintf(":%d", config.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}

func main() {
	// If called with `--version`, report version and exit (the Dockerfile
	// uses this to check if the binary was built correctly)
	bininfo.HandleVersionArgument()

	config := conf.GetConfigOrDie()
	config.LoggingConfig.SetDefaultLogger()

	// Set runtime concurrency to match CPU limit imposed by Kubernetes
	undoMaxprocs := must.Return(maxprocs.Set(maxprocs.Logger(slog.Debug)))
	defer undoMaxprocs()

	// Override User-Agent header for all requests made by this process
	// (logs will show e.g. "foreman/d0c9faa" instead of "Go-http-client/2.0")
	wrap := httpext.WrapTransport(&http.DefaultTransport)
	wrap.SetOverrideUserAgent(bininfo.Component(), bininfo.VersionOr("rolling"))

	// This context will gracefully shutdown when the process receives the
	// standard shutdown signal SIGINT, with a 10-second delay to allow
	// Kubernetes to stop sending new requests well before the process starts
	// to shut down.
	ctx := httpext.ContextWithSIGINT(context.Background(), 10*time.Second)

	// Set up the monitoring registry and database connection.
	registry := monitoring.NewRegistry(config.MonitoringConfig)

	dbMonitor := db.NewDBMonitor(registry)
	database := db.NewPostgresDB(ctx, config.DBConfig, registry, dbMonitor)
	defer database.Close()
	go database.CheckLivenessPeriodically(ctx)
	go runMonitoringServer(ctx, registry, config.MonitoringConfig)

	store := shop.NewStore(database)
	must.Succeed(store.Init())
	// Index migrations run after the tables exist.
	db.NewMigrater(database).Migrate(false)

	mqttClient := mqtt.NewClient(config.MQTTConfig, mqtt.NewMQTTMonitor(registry))
	if err := mqttClient.Connect(); err != nil {
		panic("failed to connect to mqtt broker: " + err.Error())
	}
	defer mqttClient.Disconnect()

	seeder := &ingest.MachineSeeder{
		Store:      store,
		Conf:       config.MachinesConfig,
		MqttClient: mqttClient,
	}
	must.Succeed(seeder.SeedIfConfigured(ctx))

	shiftCalendar := must.Return(calendar.NewShiftCalendar(config.CalendarConfig))

	// Schedule events reach the dashboard over the websocket hub and are
	// mirrored to the broker for other services.
	hub := api.NewHub()
	go hub.Run(ctx)
	publisher := events.MultiPublisher{hub, events.MQTTPublisher{Client: mqttClient}}

	machineRegistry := machines.NewRegistry()
	availability := operators.NewAvailabilityManager(shiftCalendar)
	shiftLoad := shiftload.NewManager(store, shiftCalendar, publisher, shiftload.NewShiftLoadMonitor(registry))
	campaignManager := campaigns.NewManager()
	pipelines := scheduler.NewPipelinesFromConfig(
		config.SchedulerConfig, database, scheduler.NewPipelineMonitor(registry), mqttClient,
	)
	jobScheduler := scheduler.New(
		store, shiftCalendar, machineRegistry, availability,
		shiftLoad, campaignManager, pipelines, publisher, config.SchedulerConfig,
	)
	rescheduleEngine := rescheduler.New(store, jobScheduler, publisher)

	go shiftLoad.RecomputePeriodically(ctx, shiftLoadInterval)
	must.Succeed(shiftLoad.SubscribeTriggers(ctx, mqttClient, ingest.TriggerMachinesSeeded, scheduler.TopicFinished))
	must.Succeed(rescheduleEngine.SubscribeTriggers(mqttClient))

	// Run an api server that serves some basic endpoints and can be extended.
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpAPI := api.NewAPI(
		config, registry, store, jobScheduler, rescheduleEngine,
		campaignManager, shiftCalendar, hub, publisher,
	)
	httpAPI.Init(mux) // non-blocking

	// Run the api server after all other tasks have been started and
	// all http handlers have been registered to the mux.
	apiConf := config.APIConfig
	slog.Info("api listening", "port", apiConf.Port)
	addr := fmt.Sprintf(":%d", apiConf.Port)
	if err := httpext.ListenAndServeContext(ctx, addr, mux); err != nil {
		panic(err)
	}
}
