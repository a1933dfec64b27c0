// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package shop

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-gorp/gorp"
	"github.com/google/uuid"
	"github.com/hashicorp/go-set/v3"
	"github.com/shopfloor-dev/foreman/internal/db"
)

// Store wraps the database with the persistence operations the
// scheduling core needs. All timestamps are stored in UTC.
type Store struct {
	DB db.DB
}

func NewStore(database db.DB) Store {
	return Store{DB: database}
}

// Create all tables owned by the store if they don't exist yet.
func (s Store) Init() error {
	tables := []*gorp.TableMap{}
	for _, model := range []db.Table{
		Job{},
		RoutingOperation{},
		Machine{},
		Resource{},
		ResourceUnavailability{},
		ScheduleEntry{},
		MaterialOrder{},
		OutsourcedOperation{},
	} {
		tables = append(tables, s.DB.AddTable(model))
	}
	return s.DB.CreateTable(tables...)
}

// Jobs

func (s Store) CreateJob(job *Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = JobStatusOpen
	}
	if job.CreatedDate.IsZero() {
		job.CreatedDate = time.Now().UTC()
	}
	return s.DB.Insert(job)
}

func (s Store) GetJob(id string) (Job, error) {
	var job Job
	err := s.DB.SelectOne(&job,
		"SELECT * FROM jobs WHERE id = :id",
		map[string]any{"id": id},
	)
	return job, err
}

func (s Store) GetJobByNumber(jobNumber string) (Job, error) {
	var job Job
	err := s.DB.SelectOne(&job,
		"SELECT * FROM jobs WHERE job_number = :job_number",
		map[string]any{"job_number": jobNumber},
	)
	return job, err
}

func (s Store) ListJobs(includeCompleted bool) ([]Job, error) {
	var jobs []Job
	query := "SELECT * FROM jobs"
	if !includeCompleted {
		query += " WHERE status != '" + JobStatusComplete + "'"
	}
	query += " ORDER BY job_number"
	_, err := s.DB.Select(&jobs, query)
	return jobs, err
}

func (s Store) UpdateJob(job *Job) error {
	_, err := s.DB.Update(job)
	return err
}

// Delete the job with its routing and schedule entries.
func (s Store) DeleteJob(id string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	params := map[string]any{"job_id": id}
	for _, query := range []string{
		"DELETE FROM schedule_entries WHERE job_id = :job_id",
		"DELETE FROM routing_operations WHERE job_id = :job_id",
		"DELETE FROM material_orders WHERE job_id = :job_id",
		"DELETE FROM outsourced_operations WHERE job_id = :job_id",
		"DELETE FROM jobs WHERE id = :job_id",
	} {
		if _, err := tx.Exec(query, params); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

// Delete all jobs with their routings and schedule entries.
func (s Store) DeleteAllJobs() error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	for _, query := range []string{
		"DELETE FROM schedule_entries",
		"DELETE FROM routing_operations",
		"DELETE FROM material_orders",
		"DELETE FROM outsourced_operations",
		"DELETE FROM jobs",
	} {
		if _, err := tx.Exec(query); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

// Routing operations

func (s Store) CreateRoutingOperation(op *RoutingOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	return s.DB.Insert(op)
}

// The routing of a job, ordered by sequence.
func (s Store) RoutingForJob(jobID string) ([]RoutingOperation, error) {
	var ops []RoutingOperation
	_, err := s.DB.Select(&ops,
		"SELECT * FROM routing_operations WHERE job_id = :job_id ORDER BY sequence",
		map[string]any{"job_id": jobID},
	)
	return ops, err
}

// Replace the complete routing of a job.
func (s Store) ReplaceRouting(jobID string, ops []RoutingOperation) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM routing_operations WHERE job_id = :job_id",
		map[string]any{"job_id": jobID},
	); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	for i := range ops {
		ops[i].JobID = jobID
		if ops[i].ID == "" {
			ops[i].ID = uuid.NewString()
		}
		if err := tx.Insert(&ops[i]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

// Machines

func (s Store) UpsertMachine(machine *Machine) error {
	if machine.ID == "" {
		machine.ID = uuid.NewString()
	}
	return db.Upsert(s.DB, machine)
}

func (s Store) Machines() ([]Machine, error) {
	var machines []Machine
	_, err := s.DB.Select(&machines, "SELECT * FROM machines ORDER BY machine_id")
	return machines, err
}

// Look up a machine by its human-readable id, e.g. VMC-001.
func (s Store) MachineByID(machineID string) (Machine, error) {
	var machine Machine
	err := s.DB.SelectOne(&machine,
		"SELECT * FROM machines WHERE machine_id = :machine_id",
		map[string]any{"machine_id": machineID},
	)
	return machine, err
}

// Replace the complete machine fleet, e.g. when re-seeding.
func (s Store) ReplaceAllMachines(machines []Machine) error {
	for i := range machines {
		if machines[i].ID == "" {
			machines[i].ID = uuid.NewString()
		}
	}
	return db.ReplaceAll(s.DB, machines...)
}

// Resources

func (s Store) CreateResource(resource *Resource) error {
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	return s.DB.Insert(resource)
}

func (s Store) UpdateResource(resource *Resource) error {
	_, err := s.DB.Update(resource)
	return err
}

func (s Store) Resources() ([]Resource, error) {
	var resources []Resource
	_, err := s.DB.Select(&resources, "SELECT * FROM resources ORDER BY name")
	return resources, err
}

func (s Store) GetResource(id string) (Resource, error) {
	var resource Resource
	err := s.DB.SelectOne(&resource,
		"SELECT * FROM resources WHERE id = :id",
		map[string]any{"id": id},
	)
	return resource, err
}

// Unavailabilities

func (s Store) CreateUnavailability(u *ResourceUnavailability) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return s.DB.Insert(u)
}

func (s Store) Unavailabilities() ([]ResourceUnavailability, error) {
	var unavailabilities []ResourceUnavailability
	_, err := s.DB.Select(&unavailabilities,
		"SELECT * FROM resource_unavailabilities ORDER BY start_date",
	)
	return unavailabilities, err
}

// Schedule entries

func (s Store) ScheduleEntries() ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	_, err := s.DB.Select(&entries,
		"SELECT * FROM schedule_entries ORDER BY start_time",
	)
	return entries, err
}

func (s Store) ScheduleEntriesForJob(jobID string) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	_, err := s.DB.Select(&entries,
		"SELECT * FROM schedule_entries WHERE job_id = :job_id ORDER BY start_time",
		map[string]any{"job_id": jobID},
	)
	return entries, err
}

// All entries overlapping the given range.
func (s Store) ScheduleEntriesInRange(start, end time.Time) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	_, err := s.DB.Select(&entries, `
		SELECT * FROM schedule_entries
		WHERE start_time < :range_end AND end_time > :range_start
		ORDER BY start_time`,
		map[string]any{"range_start": start, "range_end": end},
	)
	return entries, err
}

// Delete all schedule entries and reset every job that is not complete
// back to open.
func (s Store) ClearAllScheduleEntries() error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM schedule_entries"); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	if _, err := tx.Exec(
		"UPDATE jobs SET status = :open WHERE status != :complete",
		map[string]any{"open": JobStatusOpen, "complete": JobStatusComplete},
	); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Persist a finished placement atomically: drop the job's entries at or
// after the cutoff, insert the replacements, and write back the job row
// carrying its new status and cached priority.
func (s Store) CommitEntries(job *Job, cutoff time.Time, entries []ScheduleEntry) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM schedule_entries WHERE job_id = :job_id AND start_time >= :cutoff",
		map[string]any{"job_id": job.ID, "cutoff": cutoff},
	); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if err := tx.Insert(&entries[i]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	if _, err := tx.Update(job); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Atomically drop all entries of the job starting at or after the
// cutoff and persist the given replacements.
func (s Store) ReplaceEntriesFrom(jobID string, cutoff time.Time, entries []ScheduleEntry) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		"DELETE FROM schedule_entries WHERE job_id = :job_id AND start_time >= :cutoff",
		map[string]any{"job_id": jobID, "cutoff": cutoff},
	); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.Error("failed to rollback transaction", "error", rbErr)
		}
		return err
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
		if err := tx.Insert(&entries[i]); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				slog.Error("failed to rollback transaction", "error", rbErr)
			}
			return err
		}
	}
	return tx.Commit()
}

// Job ids with schedule entries that overlap the given range on one of
// the affected resources or machines during one of the given shifts.
func (s Store) JobsRequiringRescheduling(
	resourceIDs, machineIDs []string,
	start, end time.Time,
	shifts []int,
) ([]string, error) {
	entries, err := s.ScheduleEntriesInRange(start, end)
	if err != nil {
		return nil, err
	}
	affectedResources := set.From(resourceIDs)
	affectedMachines := set.From(machineIDs)
	affectedShifts := set.From(shifts)
	jobIDs := set.New[string](len(entries))
	for _, entry := range entries {
		if !affectedShifts.Empty() && !affectedShifts.Contains(entry.Shift) {
			continue
		}
		resourceAffected := entry.ResourceID != nil && affectedResources.Contains(*entry.ResourceID)
		machineAffected := affectedMachines.Contains(entry.MachineID)
		if !resourceAffected && !machineAffected {
			continue
		}
		jobIDs.Insert(entry.JobID)
	}
	return jobIDs.Slice(), nil
}

// Material orders and outsourced operations

func (s Store) CreateMaterialOrder(order *MaterialOrder) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	return s.DB.Insert(order)
}

func (s Store) MaterialOrdersForJob(jobID string) ([]MaterialOrder, error) {
	var orders []MaterialOrder
	_, err := s.DB.Select(&orders,
		"SELECT * FROM material_orders WHERE job_id = :job_id",
		map[string]any{"job_id": jobID},
	)
	return orders, err
}

func (s Store) CreateOutsourcedOperation(op *OutsourcedOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	return s.DB.Insert(op)
}

func (s Store) OutsourcedOperationsForJob(jobID string) ([]OutsourcedOperation, error) {
	var ops []OutsourcedOperation
	_, err := s.DB.Select(&ops,
		"SELECT * FROM outsourced_operations WHERE job_id = :job_id",
		map[string]any{"job_id": jobID},
	)
	return ops, err
}

// Whether a job may be scheduled right now. Parts currently at an
// outside vendor block scheduling (reason is set); missing material
// only produces a warning.
func (s Store) IsJobReady(jobID string) (ready bool, reason string, warnings []string, err error) {
	outsourced, err := s.OutsourcedOperationsForJob(jobID)
	if err != nil {
		return false, "", nil, err
	}
	for _, op := range outsourced {
		if op.Status == OutsourceShipped {
			reason := fmt.Sprintf(
				"parts are at vendor %s (operation %d not returned)",
				op.Vendor, op.OperationSequence,
			)
			return false, reason, nil, nil
		}
	}
	job, err := s.GetJob(jobID)
	if err != nil {
		return false, "", nil, err
	}
	if job.MaterialOnOrder {
		orders, err := s.MaterialOrdersForJob(jobID)
		if err != nil {
			return false, "", nil, err
		}
		received := false
		for _, order := range orders {
			if order.Status == MaterialReceived {
				received = true
				break
			}
		}
		if !received {
			warnings = append(warnings,
				fmt.Sprintf("material %q for job %s is not received yet", job.Material, job.JobNumber),
			)
		}
	}
	return true, "", warnings, nil
}
