// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package shop

import (
	"database/sql"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	testdb "github.com/shopfloor-dev/foreman/testlib/db"
)

// 2026-03-09 is a Monday.
var (
	monday    = time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)
	tuesday   = monday.AddDate(0, 0, 1)
	wednesday = monday.AddDate(0, 0, 2)
)

func setupStore(t *testing.T) Store {
	t.Helper()
	env := testdb.SetupDBEnv(t)
	t.Cleanup(env.Close)
	store := NewStore(*env.DB)
	if err := store.Init(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return store
}

func storeJob(t *testing.T, store Store, number string) Job {
	t.Helper()
	job := Job{JobNumber: number, Customer: "Vandelay Industries", Quantity: 25}
	if err := store.CreateJob(&job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return job
}

func storeEntry(t *testing.T, store Store, jobID, machineID, resourceID string, shift int, start, end time.Time) ScheduleEntry {
	t.Helper()
	entry := ScheduleEntry{
		JobID:             jobID,
		MachineID:         machineID,
		OperationSequence: 10,
		OperationName:     "MILL COMPLETE",
		StartTime:         start,
		EndTime:           end,
		Shift:             shift,
		Status:            "Scheduled",
	}
	if resourceID != "" {
		entry.ResourceID = &resourceID
	}
	if err := store.ReplaceEntriesFrom(jobID, end, []ScheduleEntry{entry}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return entry
}

func TestCreateJobDefaults(t *testing.T) {
	store := setupStore(t)
	job := storeJob(t, store, "J-1001")
	if job.ID == "" {
		t.Errorf("expected an assigned id")
	}
	if job.Status != JobStatusOpen {
		t.Errorf("expected status Open, got %s", job.Status)
	}
	if job.CreatedDate.IsZero() {
		t.Errorf("expected a creation date")
	}

	loaded, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if loaded.JobNumber != "J-1001" || loaded.Customer != "Vandelay Industries" {
		t.Errorf("expected the job back, got %+v", loaded)
	}
	byNumber, err := store.GetJobByNumber("J-1001")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if byNumber.ID != job.ID {
		t.Errorf("expected the same job by number")
	}
	if _, err := store.GetJob("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestListJobsFiltersAndOrders(t *testing.T) {
	store := setupStore(t)
	storeJob(t, store, "J-1003")
	storeJob(t, store, "J-1001")
	done := storeJob(t, store, "J-1002")
	done.Status = JobStatusComplete
	if err := store.UpdateJob(&done); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	jobs, err := store.ListJobs(false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(jobs) != 2 || jobs[0].JobNumber != "J-1001" || jobs[1].JobNumber != "J-1003" {
		t.Errorf("expected the open jobs in number order, got %+v", jobs)
	}
	jobs, err = store.ListJobs(true)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(jobs) != 3 {
		t.Errorf("expected all jobs, got %d", len(jobs))
	}
}

func TestReplaceRouting(t *testing.T) {
	store := setupStore(t)
	job := storeJob(t, store, "J-1001")
	initial := []RoutingOperation{
		{Sequence: 20, Name: "CMM INSPECT", MachineType: MachineTypeInspect, EstimatedHours: 1},
		{Sequence: 10, Name: "MILL COMPLETE", MachineType: MachineTypeMill, EstimatedHours: 4},
	}
	if err := store.ReplaceRouting(job.ID, initial); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	routing, err := store.RoutingForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routing) != 2 || routing[0].Sequence != 10 || routing[1].Sequence != 20 {
		t.Fatalf("expected the routing in sequence order, got %+v", routing)
	}
	for _, op := range routing {
		if op.ID == "" || op.JobID != job.ID {
			t.Errorf("expected assigned ids on %+v", op)
		}
	}

	replacement := []RoutingOperation{
		{Sequence: 10, Name: "SAW BLANKS", MachineType: MachineTypeSaw, EstimatedHours: 0.5},
	}
	if err := store.ReplaceRouting(job.ID, replacement); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	routing, err = store.RoutingForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routing) != 1 || routing[0].Name != "SAW BLANKS" {
		t.Errorf("expected the routing replaced, got %+v", routing)
	}
}

func TestDeleteJobCascades(t *testing.T) {
	store := setupStore(t)
	job := storeJob(t, store, "J-1001")
	if err := store.ReplaceRouting(job.ID, []RoutingOperation{
		{Sequence: 10, Name: "MILL COMPLETE", MachineType: MachineTypeMill},
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	storeEntry(t, store, job.ID, "VMC-001", "r1", 1, monday.Add(6*time.Hour), monday.Add(10*time.Hour))
	if err := store.CreateMaterialOrder(&MaterialOrder{JobID: job.ID, Material: "6061-T6", Status: MaterialOrdered}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.CreateOutsourcedOperation(&OutsourcedOperation{
		JobID: job.ID, OperationSequence: 20, Vendor: "ACME PLATING", Status: OutsourcePending,
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := store.DeleteJob(job.ID); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := store.GetJob(job.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected the job gone, got %v", err)
	}
	routing, err := store.RoutingForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(routing) != 0 {
		t.Errorf("expected the routing gone, got %d ops", len(routing))
	}
	entries, err := store.ScheduleEntriesForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected the entries gone, got %d", len(entries))
	}
	orders, err := store.MaterialOrdersForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected the material orders gone, got %d", len(orders))
	}
	outsourced, err := store.OutsourcedOperationsForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(outsourced) != 0 {
		t.Errorf("expected the outsourced operations gone, got %d", len(outsourced))
	}
}

func TestUpsertMachine(t *testing.T) {
	store := setupStore(t)
	machine := Machine{MachineID: "VMC-001", Name: "Haas VF-2", Type: MachineTypeMill, Status: MachineAvailable}
	if err := store.UpsertMachine(&machine); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if machine.ID == "" {
		t.Errorf("expected an assigned id")
	}

	machine.Status = MachineMaintenance
	if err := store.UpsertMachine(&machine); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	machines, err := store.Machines()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(machines) != 1 {
		t.Fatalf("expected the machine updated in place, got %d rows", len(machines))
	}
	if machines[0].Status != MachineMaintenance {
		t.Errorf("expected the new status, got %s", machines[0].Status)
	}

	loaded, err := store.MachineByID("VMC-001")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if loaded.ID != machine.ID {
		t.Errorf("expected the lookup by machine id")
	}
	if _, err := store.MachineByID("NOPE-1"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestCommitEntriesReplacesFromCutoff(t *testing.T) {
	store := setupStore(t)
	job := storeJob(t, store, "J-1001")
	early := ScheduleEntry{
		JobID: job.ID, MachineID: "SAW-001", OperationSequence: 10, OperationName: "SAW BLANKS",
		StartTime: monday.Add(6 * time.Hour), EndTime: monday.Add(8 * time.Hour), Shift: 1, Status: "Scheduled",
	}
	late := ScheduleEntry{
		JobID: job.ID, MachineID: "VMC-001", OperationSequence: 20, OperationName: "MILL COMPLETE",
		StartTime: tuesday.Add(6 * time.Hour), EndTime: tuesday.Add(10 * time.Hour), Shift: 1, Status: "Scheduled",
	}
	if err := store.ReplaceEntriesFrom(job.ID, time.Time{}, []ScheduleEntry{early, late}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	replacement := ScheduleEntry{
		JobID: job.ID, MachineID: "VMC-002", OperationSequence: 20, OperationName: "MILL COMPLETE",
		StartTime: wednesday.Add(6 * time.Hour), EndTime: wednesday.Add(10 * time.Hour), Shift: 1, Status: "Scheduled",
	}
	job.Status = JobStatusScheduled
	job.Priority = 400
	if err := store.CommitEntries(&job, tuesday, []ScheduleEntry{replacement}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	entries, err := store.ScheduleEntriesForJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].MachineID != "SAW-001" {
		t.Errorf("expected the entry before the cutoff kept, got %+v", entries[0])
	}
	if entries[1].MachineID != "VMC-002" || !entries[1].StartTime.Equal(replacement.StartTime) {
		t.Errorf("expected the replacement entry, got %+v", entries[1])
	}

	stored, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stored.Status != JobStatusScheduled || stored.Priority != 400 {
		t.Errorf("expected the job row written back, got %+v", stored)
	}
}

func TestClearAllScheduleEntries(t *testing.T) {
	store := setupStore(t)
	scheduled := storeJob(t, store, "J-1001")
	scheduled.Status = JobStatusScheduled
	if err := store.UpdateJob(&scheduled); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	done := storeJob(t, store, "J-1002")
	done.Status = JobStatusComplete
	if err := store.UpdateJob(&done); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	storeEntry(t, store, scheduled.ID, "VMC-001", "r1", 1, monday.Add(6*time.Hour), monday.Add(10*time.Hour))

	if err := store.ClearAllScheduleEntries(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	entries, err := store.ScheduleEntries()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected an empty schedule, got %d entries", len(entries))
	}
	reset, err := store.GetJob(scheduled.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reset.Status != JobStatusOpen {
		t.Errorf("expected the scheduled job back in Open, got %s", reset.Status)
	}
	kept, err := store.GetJob(done.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if kept.Status != JobStatusComplete {
		t.Errorf("expected the complete job untouched, got %s", kept.Status)
	}
}

func TestScheduleEntriesInRange(t *testing.T) {
	store := setupStore(t)
	job := storeJob(t, store, "J-1001")
	storeEntry(t, store, job.ID, "VMC-001", "r1", 1, monday.Add(6*time.Hour), monday.Add(10*time.Hour))
	other := storeJob(t, store, "J-1002")
	storeEntry(t, store, other.ID, "VMC-001", "r1", 1, wednesday.Add(6*time.Hour), wednesday.Add(10*time.Hour))

	entries, err := store.ScheduleEntriesInRange(monday, tuesday)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 1 || entries[0].JobID != job.ID {
		t.Errorf("expected only the Monday entry, got %+v", entries)
	}

	// Overlap counts, containment is not required.
	entries, err = store.ScheduleEntriesInRange(monday.Add(9*time.Hour), monday.Add(11*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected the overlapping entry, got %d", len(entries))
	}

	entries, err = store.ScheduleEntriesInRange(monday.Add(10*time.Hour), monday.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entry touching an adjacent range, got %d", len(entries))
	}
}

func TestJobsRequiringRescheduling(t *testing.T) {
	store := setupStore(t)
	job1 := storeJob(t, store, "J-1001")
	storeEntry(t, store, job1.ID, "VMC-001", "r1", 1, monday.Add(6*time.Hour), monday.Add(10*time.Hour))
	job2 := storeJob(t, store, "J-1002")
	storeEntry(t, store, job2.ID, "SAW-001", "r2", 2, monday.Add(16*time.Hour), monday.Add(20*time.Hour))
	job3 := storeJob(t, store, "J-1003")
	storeEntry(t, store, job3.ID, "VMC-001", "r1", 1, wednesday.Add(6*time.Hour), wednesday.Add(10*time.Hour))

	affected, err := store.JobsRequiringRescheduling([]string{"r1"}, nil, monday, tuesday, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(affected) != 1 || affected[0] != job1.ID {
		t.Errorf("expected only the Monday job of r1, got %v", affected)
	}

	affected, err = store.JobsRequiringRescheduling(nil, []string{"SAW-001"}, monday, tuesday, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(affected) != 1 || affected[0] != job2.ID {
		t.Errorf("expected the saw job, got %v", affected)
	}

	// A shift filter drops entries in other shifts.
	affected, err = store.JobsRequiringRescheduling([]string{"r1"}, nil, monday, tuesday, []int{2})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(affected) != 0 {
		t.Errorf("expected no shift-2 work for r1, got %v", affected)
	}

	affected, err = store.JobsRequiringRescheduling([]string{"r2"}, []string{"VMC-001"}, monday, tuesday, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(affected) != 2 || !slices.Contains(affected, job1.ID) || !slices.Contains(affected, job2.ID) {
		t.Errorf("expected both Monday jobs, got %v", affected)
	}
}

func TestIsJobReady(t *testing.T) {
	store := setupStore(t)

	job := Job{JobNumber: "J-1001", Material: "6061-T6", MaterialOnOrder: true}
	if err := store.CreateJob(&job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ready, reason, warnings, err := store.IsJobReady(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ready || reason != "" {
		t.Errorf("expected material on order not to block, got ready=%v reason=%q", ready, reason)
	}
	if len(warnings) != 1 {
		t.Errorf("expected a material warning, got %v", warnings)
	}

	if err := store.CreateMaterialOrder(&MaterialOrder{
		JobID: job.ID, Material: "6061-T6", Status: MaterialReceived,
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ready, _, warnings, err = store.IsJobReady(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ready || len(warnings) != 0 {
		t.Errorf("expected received material to clear the warning, got %v", warnings)
	}

	if err := store.CreateOutsourcedOperation(&OutsourcedOperation{
		JobID: job.ID, OperationSequence: 30, Vendor: "ACME PLATING", Status: OutsourceShipped,
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ready, reason, _, err = store.IsJobReady(job.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ready {
		t.Errorf("expected parts at the vendor to block scheduling")
	}
	if !strings.Contains(reason, "ACME PLATING") {
		t.Errorf("expected the reason to name the vendor, got %q", reason)
	}

	returned := Job{JobNumber: "J-1002"}
	if err := store.CreateJob(&returned); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.CreateOutsourcedOperation(&OutsourcedOperation{
		JobID: returned.ID, OperationSequence: 30, Vendor: "ACME PLATING", Status: OutsourceReturned,
	}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ready, reason, _, err = store.IsJobReady(returned.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !ready || reason != "" {
		t.Errorf("expected returned parts not to block, got ready=%v reason=%q", ready, reason)
	}
}
