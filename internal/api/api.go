// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the scheduler over HTTP and pushes schedule
// events to websocket watchers.
package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/campaigns"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/ingest"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
	"github.com/shopfloor-dev/foreman/internal/rescheduler"
	"github.com/shopfloor-dev/foreman/internal/scheduler"
	"github.com/shopfloor-dev/foreman/internal/shop"
)

type HTTPAPI interface {
	// Bind the server handlers.
	Init(*http.ServeMux)
}

type httpAPI struct {
	config      conf.Config
	store       shop.Store
	scheduler   *scheduler.Scheduler
	rescheduler *rescheduler.Engine
	campaigns   *campaigns.Manager
	importer    *ingest.JobImporter
	calendar    *calendar.ShiftCalendar
	hub         *Hub
	publisher   events.Publisher
	monitor     APIMonitor
}

func NewAPI(
	config conf.Config,
	registry *monitoring.Registry,
	store shop.Store,
	sched *scheduler.Scheduler,
	resched *rescheduler.Engine,
	campaignManager *campaigns.Manager,
	shiftCalendar *calendar.ShiftCalendar,
	hub *Hub,
	publisher events.Publisher,
) HTTPAPI {
	return &httpAPI{
		config:      config,
		store:       store,
		scheduler:   sched,
		rescheduler: resched,
		campaigns:   campaignManager,
		importer:    &ingest.JobImporter{Store: store},
		calendar:    shiftCalendar,
		hub:         hub,
		publisher:   publisher,
		monitor:     NewAPIMonitor(registry),
	}
}

// Init the API mux and bind the handlers.
func (api *httpAPI) Init(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/jobs", api.ListJobs)
	mux.HandleFunc("POST /api/jobs", api.CreateJob)
	mux.HandleFunc("PUT /api/jobs/{id}", api.UpdateJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", api.DeleteJob)
	mux.HandleFunc("DELETE /api/jobs", api.DeleteAllJobs)
	mux.HandleFunc("POST /api/jobs/import", api.ImportJobs)
	mux.HandleFunc("POST /api/jobs/{id}/auto-schedule", api.AutoScheduleJob)
	mux.HandleFunc("POST /api/jobs/{id}/manual-schedule", api.ManualScheduleJob)
	mux.HandleFunc("POST /api/jobs/{id}/drag-schedule", api.DragScheduleJob)
	mux.HandleFunc("POST /api/jobs/schedule-all", api.ScheduleAllJobs)
	mux.HandleFunc("DELETE /api/schedule/all", api.ClearSchedule)
	mux.HandleFunc("GET /api/schedule/entries", api.ListScheduleEntries)
	mux.HandleFunc("GET /api/machines", api.ListMachines)
	mux.HandleFunc("PUT /api/machines/{id}", api.UpdateMachine)
	mux.HandleFunc("GET /api/resources", api.ListResources)
	mux.HandleFunc("POST /api/resources/{id}/mark-unavailable", api.MarkResourceUnavailable)
	mux.HandleFunc("POST /api/resources/bulk-unavailable", api.BulkMarkUnavailable)
	mux.HandleFunc("POST /api/reschedule/unavailability", api.RescheduleUnavailability)
	mux.HandleFunc("GET /api/campaigns", api.ListCampaigns)
	if api.hub != nil {
		mux.HandleFunc("GET /ws", api.hub.HandleConnection)
	}
}

// Write the JSON response body and complete the monitored callback.
func respond(callback MonitoredCallback, w http.ResponseWriter, status int, body any, text string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response body", "error", err)
	}
	callback.Respond(status, nil, text)
}

// If configured, log out the complete request body. Returns false when
// the request was already answered.
func (api *httpAPI) maybeLogBody(callback MonitoredCallback, r *http.Request) bool {
	if !api.config.LogRequestBodies {
		return true
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to read request body")
		return false
	}
	slog.Info("request body", "body", string(body))
	r.Body = io.NopCloser(bytes.NewBuffer(body)) // Restore the body for further processing
	return true
}

func (api *httpAPI) publish(eventType string, data any) {
	if api.publisher == nil {
		return
	}
	api.publisher.Publish(events.Event{Type: eventType, Data: data})
}

// Body of POST /api/jobs and PUT /api/jobs/{id}. The routing replaces
// the stored one when present.
type jobPayload struct {
	shop.Job
	Routing []shop.RoutingOperation `json:"routing,omitempty"`
}

func (api *httpAPI) ListJobs(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs")
	query := r.URL.Query()
	includeCompleted := query.Has("includeCompleted") && query.Get("includeCompleted") != "false"
	jobs, err := api.store.ListJobs(includeCompleted)
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []shop.Job{}
	}
	respond(callback, w, http.StatusOK, jobs, "Success")
}

func (api *httpAPI) CreateJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	var payload jobPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if payload.JobNumber == "" {
		callback.Respond(http.StatusBadRequest, errors.New("missing jobNumber"), "jobNumber is required")
		return
	}
	if err := api.store.CreateJob(&payload.Job); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to create job")
		return
	}
	if len(payload.Routing) > 0 {
		if err := api.store.ReplaceRouting(payload.Job.ID, payload.Routing); err != nil {
			callback.Respond(http.StatusInternalServerError, err, "failed to store routing")
			return
		}
	}
	respond(callback, w, http.StatusCreated, payload.Job, "Success")
}

func (api *httpAPI) UpdateJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/{id}")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	id := r.PathValue("id")
	existing, err := api.store.GetJob(id)
	if errors.Is(err, sql.ErrNoRows) {
		callback.Respond(http.StatusNotFound, err, "job not found")
		return
	}
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to load job")
		return
	}
	// Fields absent from the body keep their stored values.
	payload := jobPayload{Job: existing}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	payload.Job.ID = id
	if err := api.store.UpdateJob(&payload.Job); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to update job")
		return
	}
	if payload.Routing != nil {
		if err := api.store.ReplaceRouting(id, payload.Routing); err != nil {
			callback.Respond(http.StatusInternalServerError, err, "failed to store routing")
			return
		}
	}
	respond(callback, w, http.StatusOK, payload.Job, "Success")
}

func (api *httpAPI) DeleteJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/{id}")
	id := r.PathValue("id")
	if _, err := api.store.GetJob(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			callback.Respond(http.StatusNotFound, err, "job not found")
			return
		}
		callback.Respond(http.StatusInternalServerError, err, "failed to load job")
		return
	}
	if err := api.store.DeleteJob(id); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	callback.Respond(http.StatusNoContent, nil, "Success")
}

func (api *httpAPI) DeleteAllJobs(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs")
	if err := api.store.DeleteAllJobs(); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to delete jobs")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	callback.Respond(http.StatusNoContent, nil, "Success")
}

func (api *httpAPI) ImportJobs(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/import")
	defer r.Body.Close()
	reader, err := csvUpload(r)
	if err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to read CSV upload")
		return
	}
	report, err := api.importer.Import(reader)
	if errors.Is(err, ingest.ErrInvalidCSV) {
		callback.Respond(http.StatusBadRequest, err, "invalid CSV file")
		return
	}
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to import jobs")
		return
	}
	respond(callback, w, http.StatusOK, report, "Success")
}

// The dashboard uploads multipart forms; scripted imports post the
// raw file.
func csvUpload(r *http.Request) (io.Reader, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		return file, nil
	}
	return r.Body, nil
}

func (api *httpAPI) AutoScheduleJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/{id}/auto-schedule")
	jobID := r.PathValue("id")
	if !api.jobExists(callback, jobID) {
		return
	}
	result, err := api.scheduler.ScheduleJob(r.Context(), jobID, scheduler.Options{})
	api.respondScheduleResult(callback, w, result, err)
}

func (api *httpAPI) ManualScheduleJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/{id}/manual-schedule")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	jobID := r.PathValue("id")
	if !api.jobExists(callback, jobID) {
		return
	}
	var request struct {
		StartDate time.Time `json:"startDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if request.StartDate.IsZero() {
		callback.Respond(http.StatusBadRequest, errors.New("missing startDate"), "startDate is required")
		return
	}
	result, err := api.scheduler.ScheduleJob(r.Context(), jobID, scheduler.Options{After: request.StartDate})
	api.respondScheduleResult(callback, w, result, err)
}

func (api *httpAPI) DragScheduleJob(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/{id}/drag-schedule")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	jobID := r.PathValue("id")
	if !api.jobExists(callback, jobID) {
		return
	}
	var request struct {
		MachineID string    `json:"machineId"`
		StartDate time.Time `json:"startDate"`
		Shift     int       `json:"shift"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if request.MachineID == "" {
		callback.Respond(http.StatusBadRequest, errors.New("missing machineId"), "machineId is required")
		return
	}
	if _, err := api.store.MachineByID(request.MachineID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			callback.Respond(http.StatusBadRequest, err, "unknown machine")
			return
		}
		callback.Respond(http.StatusInternalServerError, err, "failed to load machine")
		return
	}
	slog.Info("drag-schedule request",
		"job", jobID,
		"machine", request.MachineID,
		"startDate", request.StartDate,
		"shift", request.Shift,
	)
	result, err := api.scheduler.ScheduleJob(r.Context(), jobID, scheduler.Options{
		After:           request.StartDate,
		PinnedMachineID: request.MachineID,
	})
	api.respondScheduleResult(callback, w, result, err)
}

// Check the job exists, answering the request when it does not.
func (api *httpAPI) jobExists(callback MonitoredCallback, jobID string) bool {
	if _, err := api.store.GetJob(jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			callback.Respond(http.StatusNotFound, err, "job not found")
			return false
		}
		callback.Respond(http.StatusInternalServerError, err, "failed to load job")
		return false
	}
	return true
}

// Shared by the three scheduling endpoints. A placement failure is a
// structured outcome, not a server error: the body carries the reason
// and the per-operation details.
func (api *httpAPI) respondScheduleResult(callback MonitoredCallback, w http.ResponseWriter, result scheduler.ScheduleResult, err error) {
	switch {
	case err == nil:
		api.publish(events.TypeJobAutoScheduled, result)
		respond(callback, w, http.StatusOK, result, "Success")
	case scheduler.IsSchedulingFailure(err):
		respond(callback, w, http.StatusUnprocessableEntity, result, "job could not be placed")
	default:
		callback.Respond(http.StatusInternalServerError, err, "failed to schedule job")
	}
}

func (api *httpAPI) ScheduleAllJobs(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/jobs/schedule-all")
	maxJobs := 0
	if raw := r.URL.Query().Get("maxJobs"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			callback.Respond(http.StatusBadRequest, fmt.Errorf("bad maxJobs %q", raw), "maxJobs must be a positive integer")
			return
		}
		maxJobs = parsed
	}
	result, err := api.scheduler.ScheduleAll(r.Context(), maxJobs)
	switch {
	case errors.Is(err, scheduler.ErrBatchBusy):
		callback.Respond(http.StatusConflict, err, "another scheduling batch is running")
	case err != nil && result.Requested == 0:
		callback.Respond(http.StatusInternalServerError, err, "failed to run scheduling batch")
	default:
		if err != nil {
			slog.Warn("scheduling batch finished with errors", "error", err)
		}
		respond(callback, w, http.StatusOK, result, "Success")
	}
}

func (api *httpAPI) ClearSchedule(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/schedule/all")
	if err := api.store.ClearAllScheduleEntries(); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to clear schedule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	callback.Respond(http.StatusNoContent, nil, "Success")
}

func (api *httpAPI) ListScheduleEntries(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/schedule/entries")
	query := r.URL.Query()
	var entries []shop.ScheduleEntry
	var err error
	if !query.Has("start") && !query.Has("end") {
		entries, err = api.store.ScheduleEntries()
	} else {
		var start, end time.Time
		if raw := query.Get("start"); raw != "" {
			start, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				callback.Respond(http.StatusBadRequest, err, "bad start, want RFC3339")
				return
			}
		}
		if raw := query.Get("end"); raw != "" {
			end, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				callback.Respond(http.StatusBadRequest, err, "bad end, want RFC3339")
				return
			}
		} else {
			// A month is what the schedule board shows at once.
			end = start.AddDate(0, 0, 31)
		}
		if !end.After(start) {
			callback.Respond(http.StatusBadRequest, fmt.Errorf("end %s not after start %s", end, start), "end must be after start")
			return
		}
		entries, err = api.store.ScheduleEntriesInRange(start, end)
	}
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to list schedule entries")
		return
	}
	if entries == nil {
		entries = []shop.ScheduleEntry{}
	}
	respond(callback, w, http.StatusOK, entries, "Success")
}

func (api *httpAPI) ListMachines(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/machines")
	machines, err := api.store.Machines()
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to list machines")
		return
	}
	if machines == nil {
		machines = []shop.Machine{}
	}
	respond(callback, w, http.StatusOK, machines, "Success")
}

func (api *httpAPI) UpdateMachine(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/machines/{id}")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	machineID := r.PathValue("id")
	existing, err := api.store.MachineByID(machineID)
	if errors.Is(err, sql.ErrNoRows) {
		callback.Respond(http.StatusNotFound, err, "machine not found")
		return
	}
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to load machine")
		return
	}
	// Fields absent from the body keep their stored values.
	updated := existing
	if err := json.NewDecoder(r.Body).Decode(&updated); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	updated.ID = existing.ID
	updated.MachineID = existing.MachineID
	if err := api.store.UpsertMachine(&updated); err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to update machine")
		return
	}
	api.publish(events.TypeMachineUpdated, updated)
	respond(callback, w, http.StatusOK, updated, "Success")
}

func (api *httpAPI) ListResources(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/resources")
	resources, err := api.store.Resources()
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to list resources")
		return
	}
	if resources == nil {
		resources = []shop.Resource{}
	}
	respond(callback, w, http.StatusOK, resources, "Success")
}

// Body of the mark-unavailable endpoints.
type unavailabilityRequest struct {
	StartDate    time.Time `json:"startDate"`
	EndDate      time.Time `json:"endDate"`
	StartTime    string    `json:"startTime,omitempty"`
	EndTime      string    `json:"endTime,omitempty"`
	IsPartialDay bool      `json:"isPartialDay,omitempty"`
	Reason       string    `json:"reason"`
	Shifts       []int     `json:"shifts,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	// Overrides the configured auto-trigger for this call when set.
	AutoReschedule *bool `json:"autoReschedule,omitempty"`
}

type bulkUnavailabilityRequest struct {
	ResourceIDs []string `json:"resourceIds"`
	unavailabilityRequest
}

type markUnavailableResponse struct {
	Unavailabilities []shop.ResourceUnavailability `json:"unavailabilities"`
	AffectedJobIDs   []string                      `json:"affectedJobIds"`
	Reschedule       *rescheduler.Result           `json:"reschedule,omitempty"`
}

func (api *httpAPI) MarkResourceUnavailable(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/resources/{id}/mark-unavailable")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	resourceID := r.PathValue("id")
	if _, err := api.store.GetResource(resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			callback.Respond(http.StatusNotFound, err, "resource not found")
			return
		}
		callback.Respond(http.StatusInternalServerError, err, "failed to load resource")
		return
	}
	var request unavailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	api.markUnavailable(callback, w, r, []string{resourceID}, request)
}

func (api *httpAPI) BulkMarkUnavailable(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/resources/bulk-unavailable")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	var request bulkUnavailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if len(request.ResourceIDs) == 0 {
		callback.Respond(http.StatusBadRequest, errors.New("missing resourceIds"), "resourceIds is required")
		return
	}
	for _, resourceID := range request.ResourceIDs {
		if _, err := api.store.GetResource(resourceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				callback.Respond(http.StatusBadRequest, err, "unknown resource "+resourceID)
				return
			}
			callback.Respond(http.StatusInternalServerError, err, "failed to load resource")
			return
		}
	}
	api.markUnavailable(callback, w, r, request.ResourceIDs, request.unavailabilityRequest)
}

// Store the unavailability windows, report the jobs they touch, and
// when auto-trigger applies run a reschedule right away.
func (api *httpAPI) markUnavailable(callback MonitoredCallback, w http.ResponseWriter, r *http.Request, resourceIDs []string, request unavailabilityRequest) {
	if request.StartDate.IsZero() || request.EndDate.IsZero() {
		callback.Respond(http.StatusBadRequest, errors.New("missing startDate or endDate"), "startDate and endDate are required")
		return
	}
	start, end, err := api.unavailabilityWindow(request)
	if err != nil {
		callback.Respond(http.StatusBadRequest, err, "bad unavailability window")
		return
	}
	response := markUnavailableResponse{AffectedJobIDs: []string{}}
	for _, resourceID := range resourceIDs {
		unavailability := shop.ResourceUnavailability{
			ResourceID:   resourceID,
			StartDate:    request.StartDate,
			EndDate:      request.EndDate,
			StartTime:    request.StartTime,
			EndTime:      request.EndTime,
			IsPartialDay: request.IsPartialDay,
			Reason:       request.Reason,
			Notes:        request.Notes,
		}
		unavailability.SetShiftNumbers(request.Shifts)
		if err := api.store.CreateUnavailability(&unavailability); err != nil {
			callback.Respond(http.StatusInternalServerError, err, "failed to store unavailability")
			return
		}
		response.Unavailabilities = append(response.Unavailabilities, unavailability)
	}
	affected, err := api.store.JobsRequiringRescheduling(resourceIDs, nil, start, end, request.Shifts)
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to find affected jobs")
		return
	}
	if affected != nil {
		response.AffectedJobIDs = affected
	}
	api.publish(events.TypeResourceMarkedUnavailable, response)
	if api.shouldReschedule(request) && len(affected) > 0 {
		result, err := api.rescheduler.Reschedule(r.Context(), rescheduler.Request{
			Reason:              request.Reason,
			AffectedResourceIDs: resourceIDs,
			Start:               start,
			End:                 end,
			Shifts:              request.Shifts,
		})
		if err != nil {
			callback.Respond(http.StatusInternalServerError, err, "failed to reschedule around unavailability")
			return
		}
		response.Reschedule = &result
	}
	respond(callback, w, http.StatusOK, response, "Success")
}

func (api *httpAPI) shouldReschedule(request unavailabilityRequest) bool {
	if request.AutoReschedule != nil {
		return *request.AutoReschedule
	}
	return api.config.RescheduleConfig.AutoTrigger
}

// The concrete affected instants described by the request, interpreted
// in the shift timezone.
func (api *httpAPI) unavailabilityWindow(request unavailabilityRequest) (time.Time, time.Time, error) {
	start, _, err := api.calendar.ClockWindow(request.StartDate, "00:00", "00:00")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	_, end, err := api.calendar.ClockWindow(request.EndDate, "00:00", "00:00")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if request.IsPartialDay {
		if request.StartTime != "" {
			start, _, err = api.calendar.ClockWindow(request.StartDate, request.StartTime, request.StartTime)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
		if request.EndTime != "" {
			end, _, err = api.calendar.ClockWindow(request.EndDate, request.EndTime, request.EndTime)
			if err != nil {
				return time.Time{}, time.Time{}, err
			}
		}
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("unavailability ends %s before it starts %s", end, start)
	}
	return start, end, nil
}

func (api *httpAPI) RescheduleUnavailability(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/reschedule/unavailability")
	defer r.Body.Close()
	if !api.maybeLogBody(callback, r) {
		return
	}
	var request rescheduler.Request
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		callback.Respond(http.StatusBadRequest, err, "failed to decode request body")
		return
	}
	if request.Start.IsZero() || request.End.IsZero() {
		callback.Respond(http.StatusBadRequest, errors.New("missing unavailability window"),
			"unavailabilityStart and unavailabilityEnd are required")
		return
	}
	result, err := api.rescheduler.Reschedule(r.Context(), request)
	if err != nil {
		callback.Respond(http.StatusInternalServerError, err, "failed to reschedule")
		return
	}
	respond(callback, w, http.StatusOK, result, "Success")
}

func (api *httpAPI) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	callback := api.monitor.Callback(w, r, "/api/campaigns")
	respond(callback, w, http.StatusOK, api.campaigns.Campaigns(), "Success")
}
