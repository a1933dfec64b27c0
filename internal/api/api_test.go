// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopfloor-dev/foreman/internal/calendar"
	"github.com/shopfloor-dev/foreman/internal/campaigns"
	"github.com/shopfloor-dev/foreman/internal/conf"
	"github.com/shopfloor-dev/foreman/internal/events"
	"github.com/shopfloor-dev/foreman/internal/ingest"
	"github.com/shopfloor-dev/foreman/internal/machines"
	"github.com/shopfloor-dev/foreman/internal/monitoring"
	"github.com/shopfloor-dev/foreman/internal/operators"
	"github.com/shopfloor-dev/foreman/internal/rescheduler"
	"github.com/shopfloor-dev/foreman/internal/scheduler"
	"github.com/shopfloor-dev/foreman/internal/shiftload"
	"github.com/shopfloor-dev/foreman/internal/shop"
	testdb "github.com/shopfloor-dev/foreman/testlib/db"
)

// 2026-03-09 is a Monday. farMonday is also a Monday, far enough out
// that placements starting there do not depend on the wall clock.
var (
	monday    = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	farMonday = monday.AddDate(0, 0, 7*208)
)

// Publisher recording every event for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func setupAPI(t *testing.T) (*http.ServeMux, shop.Store, *capturePublisher) {
	t.Helper()
	env := testdb.SetupDBEnv(t)
	t.Cleanup(env.Close)
	store := shop.NewStore(*env.DB)
	if err := store.Init(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cal, err := calendar.NewShiftCalendar(conf.CalendarConfig{
		Timezone: "UTC",
		Shifts: []conf.ShiftWindowConfig{
			{Number: 1, Start: "06:00", End: "16:00"},
			{Number: 2, Start: "16:00", End: "02:00"},
		},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	config := conf.Config{
		SchedulerConfig: conf.SchedulerConfig{
			Pipelines:           scheduler.DefaultPipelineConfig(),
			PlanningHorizonDays: 7,
			ScanDays:            30,
			BatchTimeoutSeconds: 30,
			DefaultBatchJobs:    50,
			MaxBatchJobs:        100,
		},
	}
	publisher := &capturePublisher{}
	campaignManager := campaigns.NewManager()
	sched := scheduler.New(
		store, cal,
		machines.NewRegistry(),
		operators.NewAvailabilityManager(cal),
		shiftload.NewManager(store, cal, publisher, shiftload.Monitor{}),
		campaignManager,
		scheduler.NewPipelinesFromConfig(config.SchedulerConfig, *env.DB, scheduler.PipelineMonitor{}, nil),
		publisher, config.SchedulerConfig,
	)
	resched := rescheduler.New(store, sched, publisher)
	registry := monitoring.NewRegistry(conf.MonitoringConfig{})
	httpAPI := NewAPI(config, registry, store, sched, resched, campaignManager, cal, nil, publisher)
	mux := http.NewServeMux()
	httpAPI.Init(mux)
	return mux, store, publisher
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, request)
	return recorder
}

func doRaw(t *testing.T, mux *http.ServeMux, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, body)
	request.Header.Set("Content-Type", contentType)
	recorder := httptest.NewRecorder()
	mux.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(recorder.Body).Decode(&out); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return out
}

// One mill and one operator who works every day of the week across
// both shifts, so placements never starve on staffing.
func seedShopFloor(t *testing.T, store shop.Store, machineIDs ...string) {
	t.Helper()
	if len(machineIDs) == 0 {
		machineIDs = []string{"VMC-001"}
	}
	for _, id := range machineIDs {
		machine := shop.Machine{
			MachineID:        id,
			Name:             id,
			Type:             shop.MachineTypeMill,
			Tier:             shop.TierStandard,
			Status:           shop.MachineAvailable,
			EfficiencyFactor: 1.0,
		}
		if err := store.UpsertMachine(&machine); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	operator := shop.Resource{ID: "r1", EmployeeID: "E-r1", Name: "r1", Role: shop.RoleOperator, Active: true}
	operator.SetShiftNumbers([]int{1, 2})
	operator.SetWorkCenterIDs(machineIDs)
	schedule := map[string]shop.DaySchedule{}
	for _, day := range []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"} {
		schedule[day] = shop.DaySchedule{Enabled: true, StartTime: "00:00", EndTime: "23:59"}
	}
	operator.SetWeeklySchedule(schedule)
	if err := store.CreateResource(&operator); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func seedJobWithRouting(t *testing.T, store shop.Store, number string) shop.Job {
	t.Helper()
	job := shop.Job{
		JobNumber:    number,
		PartNumber:   "P-" + number,
		Customer:     "Vandelay Industries",
		Quantity:     25,
		Material:     "6061-T6",
		OrderDate:    monday,
		DueDate:      monday.AddDate(0, 0, 30),
		PromisedDate: monday.AddDate(0, 0, 40),
		CreatedDate:  monday,
		Status:       shop.JobStatusOpen,
	}
	if err := store.CreateJob(&job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ops := []shop.RoutingOperation{
		{Sequence: 10, Name: "MILL COMPLETE", MachineType: shop.MachineTypeMill, EstimatedHours: 4},
	}
	if err := store.ReplaceRouting(job.ID, ops); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return job
}

func TestCreateAndListJobs(t *testing.T) {
	mux, store, _ := setupAPI(t)

	payload := jobPayload{
		Job: shop.Job{JobNumber: "J-1001", Customer: "Initech", Quantity: 10},
		Routing: []shop.RoutingOperation{
			{Sequence: 10, Name: "MILL COMPLETE", MachineType: shop.MachineTypeMill, EstimatedHours: 2},
			{Sequence: 20, Name: "CMM INSPECT", MachineType: shop.MachineTypeInspect, EstimatedHours: 1},
		},
	}
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs", payload)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody[shop.Job](t, recorder)
	if created.ID == "" {
		t.Errorf("expected an assigned job id")
	}
	if created.Status != shop.JobStatusOpen {
		t.Errorf("expected status Open, got %s", created.Status)
	}

	routing, err := store.RoutingForJob(created.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routing) != 2 {
		t.Errorf("expected 2 routing operations, got %d", len(routing))
	}

	recorder = doJSON(t, mux, http.MethodGet, "/api/jobs", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	jobs := decodeBody[[]shop.Job](t, recorder)
	if len(jobs) != 1 || jobs[0].JobNumber != "J-1001" {
		t.Errorf("expected the created job in the list, got %+v", jobs)
	}
}

func TestCreateJobRequiresJobNumber(t *testing.T) {
	mux, _, _ := setupAPI(t)
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs", shop.Job{Customer: "Initech"})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestListJobsFiltersCompleted(t *testing.T) {
	mux, store, _ := setupAPI(t)
	open := seedJobWithRouting(t, store, "J-1001")
	done := seedJobWithRouting(t, store, "J-1002")
	done.Status = shop.JobStatusComplete
	if err := store.UpdateJob(&done); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	jobs := decodeBody[[]shop.Job](t, doJSON(t, mux, http.MethodGet, "/api/jobs", nil))
	if len(jobs) != 1 || jobs[0].ID != open.ID {
		t.Errorf("expected only the open job, got %+v", jobs)
	}
	jobs = decodeBody[[]shop.Job](t, doJSON(t, mux, http.MethodGet, "/api/jobs?includeCompleted=true", nil))
	if len(jobs) != 2 {
		t.Errorf("expected both jobs, got %d", len(jobs))
	}
	jobs = decodeBody[[]shop.Job](t, doJSON(t, mux, http.MethodGet, "/api/jobs?includeCompleted=false", nil))
	if len(jobs) != 1 {
		t.Errorf("expected only the open job, got %d", len(jobs))
	}
}

func TestUpdateJobKeepsStoredFields(t *testing.T) {
	mux, store, _ := setupAPI(t)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPut, "/api/jobs/"+job.ID, map[string]any{"customer": "Acme Tool"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	updated := decodeBody[shop.Job](t, recorder)
	if updated.Customer != "Acme Tool" {
		t.Errorf("expected the new customer, got %s", updated.Customer)
	}
	if updated.JobNumber != "J-1001" || updated.Quantity != 25 {
		t.Errorf("expected untouched fields to survive, got %+v", updated)
	}

	recorder = doJSON(t, mux, http.MethodPut, "/api/jobs/missing", map[string]any{"customer": "Acme Tool"})
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

func TestDeleteJob(t *testing.T) {
	mux, store, _ := setupAPI(t)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	jobs := decodeBody[[]shop.Job](t, doJSON(t, mux, http.MethodGet, "/api/jobs", nil))
	if len(jobs) != 0 {
		t.Errorf("expected no jobs left, got %d", len(jobs))
	}
	recorder = doJSON(t, mux, http.MethodDelete, "/api/jobs/"+job.ID, nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 on the second delete, got %d", recorder.Code)
	}
}

func TestDeleteAllJobs(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedJobWithRouting(t, store, "J-1001")
	seedJobWithRouting(t, store, "J-1002")

	recorder := doJSON(t, mux, http.MethodDelete, "/api/jobs", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	jobs, err := store.ListJobs(true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected an empty shop, got %d jobs", len(jobs))
	}
}

const importCSV = `Job,Customer,Est_Required_Qty,WC_Vendor,Lead_Days,Order_Date,Promised_Date,Est Total Hours,Link_Material,Status,Material,Sequence,AMT Workcenter & Vendor,Vendor,Part Description
J-2001,Initech,25,MILL,0,2026-03-02,2026-04-10,4.0,,Open,6061-T6,10,HAAS VF-2,,Widget bracket
J-2001,Initech,25,INSPECT,0,2026-03-02,2026-04-10,1.0,,Open,6061-T6,20,CMM INSPECT,,Widget bracket
J-2002,Globex,100,LATHE,0,2026-03-03,2026-04-20,8.0,123,Open,303 SS,10,ST-20Y,,Pin
`

func TestImportJobs(t *testing.T) {
	mux, store, _ := setupAPI(t)

	recorder := doRaw(t, mux, http.MethodPost, "/api/jobs/import", "text/csv", strings.NewReader(importCSV))
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	report := decodeBody[ingest.ImportReport](t, recorder)
	if report.JobsCreated != 2 {
		t.Errorf("expected 2 created jobs, got %d", report.JobsCreated)
	}
	job, err := store.GetJobByNumber("J-2001")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	routing, err := store.RoutingForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routing) != 2 {
		t.Errorf("expected 2 routing operations, got %d", len(routing))
	}
}

func TestImportJobsMultipart(t *testing.T) {
	mux, _, _ := setupAPI(t)

	var buffer bytes.Buffer
	form := multipart.NewWriter(&buffer)
	file, err := form.CreateFormFile("file", "jobs.csv")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := io.WriteString(file, importCSV); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := form.Close(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	recorder := doRaw(t, mux, http.MethodPost, "/api/jobs/import", form.FormDataContentType(), &buffer)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	report := decodeBody[ingest.ImportReport](t, recorder)
	if report.JobsCreated != 2 {
		t.Errorf("expected 2 created jobs, got %d", report.JobsCreated)
	}
}

func TestImportJobsRejectsBadHeader(t *testing.T) {
	mux, _, _ := setupAPI(t)
	recorder := doRaw(t, mux, http.MethodPost, "/api/jobs/import", "text/csv",
		strings.NewReader("Job,Customer\nJ-1,Initech\n"))
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestAutoScheduleJob(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/auto-schedule", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[scheduler.ScheduleResult](t, recorder)
	if len(result.Entries) == 0 {
		t.Fatalf("expected schedule entries, got none")
	}
	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != shop.JobStatusScheduled {
		t.Errorf("expected status Scheduled, got %s", stored.Status)
	}
	if publisher.count(events.TypeJobAutoScheduled) != 1 {
		t.Errorf("expected one job_auto_scheduled event, got %d", publisher.count(events.TypeJobAutoScheduled))
	}
}

func TestAutoScheduleJobNotFound(t *testing.T) {
	mux, _, _ := setupAPI(t)
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/missing/auto-schedule", nil)
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

func TestAutoScheduleFailureReturnsDetails(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	// No machines at all, so placement cannot succeed.
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/auto-schedule", nil)
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[scheduler.ScheduleResult](t, recorder)
	if result.FailureReason == "" {
		t.Errorf("expected a failure reason")
	}
	if len(result.FailureDetails) == 0 {
		t.Errorf("expected failure details")
	}
	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != shop.JobStatusOpen {
		t.Errorf("expected the job to stay Open, got %s", stored.Status)
	}
	if publisher.count(events.TypeJobAutoScheduled) != 0 {
		t.Errorf("expected no job_auto_scheduled event on failure")
	}
}

func TestManualSchedulePlacesAtRequestedDate(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/manual-schedule",
		map[string]any{"startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[scheduler.ScheduleResult](t, recorder)
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
	entry := result.Entries[0]
	if want := farMonday.Add(6 * time.Hour); !entry.StartTime.Equal(want) {
		t.Errorf("expected start %v, got %v", want, entry.StartTime)
	}
	if want := farMonday.Add(10 * time.Hour); !entry.EndTime.Equal(want) {
		t.Errorf("expected end %v, got %v", want, entry.EndTime)
	}
	if entry.Shift != 1 {
		t.Errorf("expected shift 1, got %d", entry.Shift)
	}
}

func TestManualScheduleRequiresStartDate(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/manual-schedule", map[string]any{})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", recorder.Code)
	}
}

func TestDragSchedulePinsMachine(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store, "VMC-001", "VMC-002")
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/drag-schedule",
		map[string]any{"machineId": "VMC-002", "startDate": farMonday.Format(time.RFC3339), "shift": 1})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[scheduler.ScheduleResult](t, recorder)
	if len(result.Entries) == 0 {
		t.Fatalf("expected schedule entries, got none")
	}
	for _, entry := range result.Entries {
		if entry.MachineID != "VMC-002" {
			t.Errorf("expected all entries on VMC-002, got %s", entry.MachineID)
		}
	}
}

func TestDragScheduleValidatesMachine(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/drag-schedule",
		map[string]any{"startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without machineId, got %d", recorder.Code)
	}
	recorder = doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/drag-schedule",
		map[string]any{"machineId": "NOPE-1", "startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown machine, got %d", recorder.Code)
	}
}

func TestScheduleAllJobs(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	seedShopFloor(t, store)
	seedJobWithRouting(t, store, "J-1001")
	seedJobWithRouting(t, store, "J-1002")

	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/schedule-all?maxJobs=abc", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad maxJobs, got %d", recorder.Code)
	}
	recorder = doJSON(t, mux, http.MethodPost, "/api/jobs/schedule-all?maxJobs=0", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero maxJobs, got %d", recorder.Code)
	}

	recorder = doJSON(t, mux, http.MethodPost, "/api/jobs/schedule-all?maxJobs=1", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[scheduler.BatchResult](t, recorder)
	if result.Requested != 1 || len(result.Scheduled) != 1 {
		t.Errorf("expected 1 job in the capped batch, got %+v", result)
	}

	// The second batch picks up the remaining open job.
	recorder = doJSON(t, mux, http.MethodPost, "/api/jobs/schedule-all", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result = decodeBody[scheduler.BatchResult](t, recorder)
	if result.Requested != 1 || len(result.Scheduled) != 1 || len(result.Failed) != 0 {
		t.Errorf("expected the remaining job to schedule, got %+v", result)
	}
	if publisher.count(events.TypeJobAutoScheduled) != 2 {
		t.Errorf("expected 2 job_auto_scheduled events, got %d", publisher.count(events.TypeJobAutoScheduled))
	}
}

func TestClearSchedule(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/auto-schedule", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, mux, http.MethodDelete, "/api/schedule/all", nil)
	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", recorder.Code)
	}
	entries, err := store.ScheduleEntries()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected an empty schedule, got %d entries", len(entries))
	}
	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != shop.JobStatusOpen {
		t.Errorf("expected the job back in Open, got %s", stored.Status)
	}
}

func TestListScheduleEntries(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/manual-schedule",
		map[string]any{"startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	entries := decodeBody[[]shop.ScheduleEntry](t, doJSON(t, mux, http.MethodGet, "/api/schedule/entries", nil))
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	inRange := "/api/schedule/entries?start=" + farMonday.Format(time.RFC3339) +
		"&end=" + farMonday.AddDate(0, 0, 1).Format(time.RFC3339)
	entries = decodeBody[[]shop.ScheduleEntry](t, doJSON(t, mux, http.MethodGet, inRange, nil))
	if len(entries) != 1 {
		t.Errorf("expected 1 entry in range, got %d", len(entries))
	}

	// The default window is a month from the start.
	afterwards := "/api/schedule/entries?start=" + farMonday.AddDate(0, 0, 2).Format(time.RFC3339)
	entries = decodeBody[[]shop.ScheduleEntry](t, doJSON(t, mux, http.MethodGet, afterwards, nil))
	if len(entries) != 0 {
		t.Errorf("expected no entries after the placement, got %d", len(entries))
	}

	recorder = doJSON(t, mux, http.MethodGet, "/api/schedule/entries?start=yesterday", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad start, got %d", recorder.Code)
	}
	same := "/api/schedule/entries?start=" + farMonday.Format(time.RFC3339) + "&end=" + farMonday.Format(time.RFC3339)
	recorder = doJSON(t, mux, http.MethodGet, same, nil)
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty window, got %d", recorder.Code)
	}
}

func TestListAndUpdateMachines(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	seedShopFloor(t, store)

	machineRows := decodeBody[[]shop.Machine](t, doJSON(t, mux, http.MethodGet, "/api/machines", nil))
	if len(machineRows) != 1 || machineRows[0].MachineID != "VMC-001" {
		t.Fatalf("expected the seeded machine, got %+v", machineRows)
	}

	recorder := doJSON(t, mux, http.MethodPut, "/api/machines/VMC-001",
		map[string]any{"status": shop.MachineMaintenance})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	updated := decodeBody[shop.Machine](t, recorder)
	if updated.Status != shop.MachineMaintenance {
		t.Errorf("expected status Maintenance, got %s", updated.Status)
	}
	if updated.MachineID != "VMC-001" || updated.Type != shop.MachineTypeMill {
		t.Errorf("expected untouched fields to survive, got %+v", updated)
	}
	stored, err := store.MachineByID("VMC-001")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != shop.MachineMaintenance {
		t.Errorf("expected the store to hold the new status, got %s", stored.Status)
	}
	if publisher.count(events.TypeMachineUpdated) != 1 {
		t.Errorf("expected one machine_updated event, got %d", publisher.count(events.TypeMachineUpdated))
	}

	recorder = doJSON(t, mux, http.MethodPut, "/api/machines/NOPE-1", map[string]any{"status": shop.MachineOffline})
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", recorder.Code)
	}
}

// Response shape of the mark-unavailable endpoints.
type unavailableResponse struct {
	Unavailabilities []shop.ResourceUnavailability `json:"unavailabilities"`
	AffectedJobIDs   []string                      `json:"affectedJobIds"`
	Reschedule       *rescheduler.Result           `json:"reschedule"`
}

func TestMarkResourceUnavailable(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/manual-schedule",
		map[string]any{"startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, mux, http.MethodPost, "/api/resources/r1/mark-unavailable", map[string]any{
		"startDate": farMonday.Format(time.RFC3339),
		"endDate":   farMonday.Format(time.RFC3339),
		"reason":    "sick",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[unavailableResponse](t, recorder)
	if len(response.Unavailabilities) != 1 {
		t.Errorf("expected 1 unavailability, got %d", len(response.Unavailabilities))
	}
	if len(response.AffectedJobIDs) != 1 || response.AffectedJobIDs[0] != job.ID {
		t.Errorf("expected the scheduled job to be affected, got %v", response.AffectedJobIDs)
	}
	if response.Reschedule != nil {
		t.Errorf("expected no reschedule without auto-trigger")
	}
	stored, err := store.Unavailabilities()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(stored) != 1 || stored[0].ResourceID != "r1" {
		t.Errorf("expected the unavailability persisted, got %+v", stored)
	}
	if publisher.count(events.TypeResourceMarkedUnavailable) != 1 {
		t.Errorf("expected one resource_marked_unavailable event")
	}
}

func TestMarkResourceUnavailableValidation(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)

	recorder := doJSON(t, mux, http.MethodPost, "/api/resources/missing/mark-unavailable", map[string]any{
		"startDate": farMonday.Format(time.RFC3339),
		"endDate":   farMonday.Format(time.RFC3339),
	})
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown resource, got %d", recorder.Code)
	}
	recorder = doJSON(t, mux, http.MethodPost, "/api/resources/r1/mark-unavailable", map[string]any{"reason": "sick"})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without dates, got %d", recorder.Code)
	}
	recorder = doJSON(t, mux, http.MethodPost, "/api/resources/r1/mark-unavailable", map[string]any{
		"startDate":    farMonday.Format(time.RFC3339),
		"endDate":      farMonday.Format(time.RFC3339),
		"isPartialDay": true,
		"startTime":    "26:99",
		"endTime":      "27:00",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad clock, got %d", recorder.Code)
	}
}

// An operator out for one day pushes the single-operator placement to
// the next day when the caller asks for an immediate reschedule.
func TestMarkResourceUnavailableReschedules(t *testing.T) {
	mux, store, publisher := setupAPI(t)
	seedShopFloor(t, store)
	job := seedJobWithRouting(t, store, "J-1001")
	recorder := doJSON(t, mux, http.MethodPost, "/api/jobs/"+job.ID+"/manual-schedule",
		map[string]any{"startDate": farMonday.Format(time.RFC3339)})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = doJSON(t, mux, http.MethodPost, "/api/resources/r1/mark-unavailable", map[string]any{
		"startDate":      farMonday.Format(time.RFC3339),
		"endDate":        farMonday.Format(time.RFC3339),
		"reason":         "sick",
		"autoReschedule": true,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[unavailableResponse](t, recorder)
	if response.Reschedule == nil {
		t.Fatalf("expected a reschedule result")
	}
	if !response.Reschedule.Success || response.Reschedule.JobsRescheduled != 1 {
		t.Errorf("expected one rescheduled job, got %+v", response.Reschedule)
	}
	entries, err := store.ScheduleEntriesForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if want := farMonday.AddDate(0, 0, 1).Add(6 * time.Hour); !entries[0].StartTime.Equal(want) {
		t.Errorf("expected the entry moved to %v, got %v", want, entries[0].StartTime)
	}
	if publisher.count(events.TypeRescheduleCompleted) != 1 {
		t.Errorf("expected one reschedule_completed event")
	}
}

func TestBulkMarkUnavailable(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	second := shop.Resource{ID: "r2", EmployeeID: "E-r2", Name: "r2", Role: shop.RoleOperator, Active: true}
	if err := store.CreateResource(&second); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	recorder := doJSON(t, mux, http.MethodPost, "/api/resources/bulk-unavailable", map[string]any{
		"resourceIds": []string{"r1", "missing"},
		"startDate":   farMonday.Format(time.RFC3339),
		"endDate":     farMonday.Format(time.RFC3339),
	})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an unknown resource, got %d", recorder.Code)
	}

	recorder = doJSON(t, mux, http.MethodPost, "/api/resources/bulk-unavailable", map[string]any{
		"resourceIds": []string{"r1", "r2"},
		"startDate":   farMonday.Format(time.RFC3339),
		"endDate":     farMonday.Format(time.RFC3339),
		"reason":      "training",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[unavailableResponse](t, recorder)
	if len(response.Unavailabilities) != 2 {
		t.Errorf("expected 2 unavailabilities, got %d", len(response.Unavailabilities))
	}
}

func TestRescheduleUnavailabilityEndpoint(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)

	recorder := doJSON(t, mux, http.MethodPost, "/api/reschedule/unavailability", map[string]any{"reason": "breakdown"})
	if recorder.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a window, got %d", recorder.Code)
	}

	recorder = doJSON(t, mux, http.MethodPost, "/api/reschedule/unavailability", map[string]any{
		"reason":              "breakdown",
		"unavailabilityStart": farMonday.Format(time.RFC3339),
		"unavailabilityEnd":   farMonday.AddDate(0, 0, 1).Format(time.RFC3339),
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	result := decodeBody[rescheduler.Result](t, recorder)
	if !result.Success || result.ConflictsResolved != 0 {
		t.Errorf("expected a clean no-op result, got %+v", result)
	}
}

func TestListResources(t *testing.T) {
	mux, store, _ := setupAPI(t)
	seedShopFloor(t, store)
	resources := decodeBody[[]shop.Resource](t, doJSON(t, mux, http.MethodGet, "/api/resources", nil))
	if len(resources) != 1 || resources[0].ID != "r1" {
		t.Errorf("expected the seeded operator, got %+v", resources)
	}
}

func TestListCampaigns(t *testing.T) {
	mux, _, _ := setupAPI(t)
	recorder := doJSON(t, mux, http.MethodGet, "/api/campaigns", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	campaignRows := decodeBody[[]campaigns.Campaign](t, recorder)
	if len(campaignRows) != 0 {
		t.Errorf("expected no campaigns yet, got %d", len(campaignRows))
	}
}
