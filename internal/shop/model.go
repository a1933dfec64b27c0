// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package shop

import (
	"encoding/json"
	"time"
)

// Job statuses as they move through their lifecycle.
const (
	JobStatusOpen       = "Open"
	JobStatusScheduled  = "Scheduled"
	JobStatusInProgress = "In Progress"
	JobStatusComplete   = "Complete"
)

// Machine availability states.
const (
	MachineAvailable   = "Available"
	MachineBusy        = "Busy"
	MachineMaintenance = "Maintenance"
	MachineOffline     = "Offline"
)

// Machine tiers. Tier 1 is treated the same as Premium.
const (
	TierPremium  = "Premium"
	TierOne      = "Tier 1"
	TierStandard = "Standard"
	TierBudget   = "Budget"
)

// Resource roles.
const (
	RoleOperator         = "Operator"
	RoleShiftLead        = "Shift Lead"
	RoleQualityInspector = "Quality Inspector"
	RoleTechnician       = "Technician"
	RoleSupervisor       = "Supervisor"
)

// Semantic machine type buckets used by routings.
const (
	MachineTypeMill      = "MILL"
	MachineTypeLathe     = "LATHE"
	MachineTypeSaw       = "SAW"
	MachineTypeWaterjet  = "WATERJET"
	MachineTypeInspect   = "INSPECT"
	MachineTypeOutsource = "OUTSOURCE"
)

// Capability flags carried by machines and requested by operations.
const (
	CapSingleSpindleTurning = "single_spindle_turning"
	CapLiveToolingTurning   = "live_tooling_turning"
	CapDualSpindleTurning   = "dual_spindle_turning"
	CapBarFedTurning        = "bar_fed_turning"
	CapVMCMilling           = "vmc_milling"
	CapPseudo4thAxisMilling = "pseudo_4th_axis_milling"
	CapTrue4thAxisMilling   = "true_4th_axis_milling"
	Cap5AxisMilling         = "5_axis_milling"
)

// One manufacturing job with an ordered routing of operations.
type Job struct {
	ID              string    `json:"id" db:"id,primarykey"`
	JobNumber       string    `json:"jobNumber" db:"job_number"`
	PartNumber      string    `json:"partNumber" db:"part_number"`
	Description     string    `json:"description" db:"description"`
	Customer        string    `json:"customer" db:"customer"`
	Quantity        int       `json:"quantity" db:"quantity"`
	Material        string    `json:"material" db:"material"`
	MaterialOnOrder bool      `json:"materialOnOrder" db:"material_on_order"`
	OutsourceVendor string    `json:"outsourceVendor" db:"outsource_vendor"`
	LeadDays        int       `json:"leadDays" db:"lead_days"`
	OrderDate       time.Time `json:"orderDate" db:"order_date"`
	PromisedDate    time.Time `json:"promisedDate" db:"promised_date"`
	DueDate         time.Time `json:"dueDate" db:"due_date"`
	CreatedDate     time.Time `json:"createdDate" db:"created_date"`
	Priority        int       `json:"priority" db:"priority"`
	Status          string    `json:"status" db:"status"`
}

func (Job) TableName() string { return "jobs" }

// The kind of work a routing operation stands for, derived from its
// machine type and operation type once, so that the placement loop can
// branch on a tag instead of matching strings.
type RoutingOpKind int

const (
	OpKindProduction RoutingOpKind = iota
	OpKindInspection
	OpKindOutsource
)

// One step of a job routing.
type RoutingOperation struct {
	ID       string `json:"id" db:"id,primarykey"`
	JobID    string `json:"jobId" db:"job_id"`
	Sequence int    `json:"sequence" db:"sequence"`
	Name     string `json:"name" db:"name"`
	// Semantic bucket, e.g. MILL/LATHE/SAW/INSPECT/OUTSOURCE.
	MachineType string `json:"machineType" db:"machine_type"`
	// Optional refinement of the work, e.g. SAW for cutoff work
	// performed on a non-saw machine type.
	OperationType string `json:"operationType" db:"operation_type"`
	// JSON-encoded list of machine ids quoted for this operation.
	CompatibleMachines  string     `json:"compatibleMachines" db:"compatible_machines"`
	EstimatedHours      float64    `json:"estimatedHours" db:"estimated_hours"`
	SetupHours          float64    `json:"setupHours" db:"setup_hours"`
	RequiredBarLengthFt float64    `json:"requiredBarLengthFt" db:"required_bar_length_ft"`
	OriginalMachineID   string     `json:"originalMachineId" db:"original_machine_id"`
	EfficiencyImpact    float64    `json:"efficiencyImpact" db:"efficiency_impact"`
	EarliestStartDate   *time.Time `json:"earliestStartDate" db:"earliest_start_date"`
	LatestFinishDate    *time.Time `json:"latestFinishDate" db:"latest_finish_date"`
}

func (RoutingOperation) TableName() string { return "routing_operations" }

// Derive the operation kind tag.
func (op RoutingOperation) Kind() RoutingOpKind {
	switch op.MachineType {
	case MachineTypeOutsource:
		return OpKindOutsource
	case MachineTypeInspect:
		return OpKindInspection
	}
	return OpKindProduction
}

// The machine ids quoted for this operation.
func (op RoutingOperation) CompatibleMachineIDs() []string {
	return decodeStrings(op.CompatibleMachines)
}

// Store the given machine ids on the operation.
func (op *RoutingOperation) SetCompatibleMachineIDs(ids []string) {
	op.CompatibleMachines = encodeStrings(ids)
}

// One physical machine on the shop floor.
type Machine struct {
	ID string `json:"id" db:"id,primarykey"`
	// Human-readable machine id, e.g. VMC-001. This is the id used by
	// routings, work centers, and schedule entries.
	MachineID   string `json:"machineId" db:"machine_id"`
	Name        string `json:"name" db:"name"`
	Type        string `json:"type" db:"type"`
	Category    string `json:"category" db:"category"`
	Subcategory string `json:"subcategory" db:"subcategory"`
	Tier        string `json:"tier" db:"tier"`
	Status      string `json:"status" db:"status"`
	// Percentage of staffed shift hours booked over the recent horizon.
	// Derived from schedule entries by the shift-load manager.
	UtilizationPct float64 `json:"utilizationPct" db:"utilization_pct"`
	// JSON-encoded list of shift numbers the machine is staffed on.
	Shifts string `json:"shifts" db:"shifts"`
	// Speed multiplier against the baseline of 1.0.
	EfficiencyFactor  float64 `json:"efficiencyFactor" db:"efficiency_factor"`
	SubstitutionGroup string  `json:"substitutionGroup" db:"substitution_group"`
	// JSON-encoded list of capability flags.
	Capabilities string `json:"capabilities" db:"capabilities"`

	// Lathe flags.
	DualSpindle bool    `json:"dualSpindle" db:"dual_spindle"`
	LiveTooling bool    `json:"liveTooling" db:"live_tooling"`
	BarFeeder   bool    `json:"barFeeder" db:"bar_feeder"`
	BarLengthFt float64 `json:"barLengthFt" db:"bar_length_ft"`

	// Mill flags.
	FourthAxis bool `json:"fourthAxis" db:"fourth_axis"`
}

func (Machine) TableName() string { return "machines" }

func (m Machine) CapabilityFlags() []string {
	return decodeStrings(m.Capabilities)
}

func (m *Machine) SetCapabilityFlags(caps []string) {
	m.Capabilities = encodeStrings(caps)
}

func (m Machine) ShiftNumbers() []int {
	return decodeInts(m.Shifts)
}

func (m *Machine) SetShiftNumbers(shifts []int) {
	m.Shifts = encodeInts(shifts)
}

// Whether Premium-equivalent, for scoring.
func (m Machine) IsPremiumTier() bool {
	return m.Tier == TierPremium || m.Tier == TierOne
}

// The working window of one weekday in a resource's weekly schedule.
type DaySchedule struct {
	Enabled   bool   `json:"enabled"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// One human operator, inspector, or lead.
type Resource struct {
	ID         string `json:"id" db:"id,primarykey"`
	EmployeeID string `json:"employeeId" db:"employee_id"`
	Name       string `json:"name" db:"name"`
	Role       string `json:"role" db:"role"`
	// JSON-encoded list of machine ids the resource is qualified on.
	WorkCenters string `json:"workCenters" db:"work_centers"`
	// JSON-encoded list of skill tags.
	Skills string `json:"skills" db:"skills"`
	// JSON-encoded list of shift numbers the resource works.
	ShiftSchedule string `json:"shiftSchedule" db:"shift_schedule"`
	Active        bool   `json:"active" db:"active"`
	// JSON-encoded map of weekday name to DaySchedule.
	WorkSchedule string `json:"workSchedule" db:"work_schedule"`
}

func (Resource) TableName() string { return "resources" }

func (r Resource) WorkCenterIDs() []string {
	return decodeStrings(r.WorkCenters)
}

func (r *Resource) SetWorkCenterIDs(ids []string) {
	r.WorkCenters = encodeStrings(ids)
}

func (r Resource) SkillTags() []string {
	return decodeStrings(r.Skills)
}

func (r Resource) ShiftNumbers() []int {
	return decodeInts(r.ShiftSchedule)
}

func (r *Resource) SetShiftNumbers(shifts []int) {
	r.ShiftSchedule = encodeInts(shifts)
}

// The weekly schedule keyed by weekday name (e.g. "Monday").
func (r Resource) WeeklySchedule() map[string]DaySchedule {
	if r.WorkSchedule == "" {
		return map[string]DaySchedule{}
	}
	var schedule map[string]DaySchedule
	if err := json.Unmarshal([]byte(r.WorkSchedule), &schedule); err != nil {
		return map[string]DaySchedule{}
	}
	return schedule
}

func (r *Resource) SetWeeklySchedule(schedule map[string]DaySchedule) {
	encoded, err := json.Marshal(schedule)
	if err != nil {
		encoded = []byte("{}")
	}
	r.WorkSchedule = string(encoded)
}

// A window during which a resource is not available for work.
type ResourceUnavailability struct {
	ID         string    `json:"id" db:"id,primarykey"`
	ResourceID string    `json:"resourceId" db:"resource_id"`
	StartDate  time.Time `json:"startDate" db:"start_date"`
	EndDate    time.Time `json:"endDate" db:"end_date"`
	// Optional wall-clock bounds (HH:MM) when only part of a day is
	// affected.
	StartTime    string `json:"startTime" db:"start_time"`
	EndTime      string `json:"endTime" db:"end_time"`
	IsPartialDay bool   `json:"isPartialDay" db:"is_partial_day"`
	Reason       string `json:"reason" db:"reason"`
	// JSON-encoded list of affected shift numbers. Empty means all.
	Shifts string `json:"shifts" db:"shifts"`
	Notes  string `json:"notes" db:"notes"`
}

func (ResourceUnavailability) TableName() string { return "resource_unavailabilities" }

func (u ResourceUnavailability) ShiftNumbers() []int {
	return decodeInts(u.Shifts)
}

func (u *ResourceUnavailability) SetShiftNumbers(shifts []int) {
	u.Shifts = encodeInts(shifts)
}

// One contiguous placement of (part of) an operation on a machine.
type ScheduleEntry struct {
	ID        string `json:"id" db:"id,primarykey"`
	JobID     string `json:"jobId" db:"job_id"`
	MachineID string `json:"machineId" db:"machine_id"`
	// Nil only for outsource placeholders.
	ResourceID        *string   `json:"resourceId" db:"resource_id"`
	OperationSequence int       `json:"operationSequence" db:"operation_sequence"`
	OperationName     string    `json:"operationName" db:"operation_name"`
	StartTime         time.Time `json:"startTime" db:"start_time"`
	EndTime           time.Time `json:"endTime" db:"end_time"`
	Shift             int       `json:"shift" db:"shift"`
	Status            string    `json:"status" db:"status"`
}

func (ScheduleEntry) TableName() string { return "schedule_entries" }

// Material purchase tracking for a job. Material-only issues are
// warnings for the scheduler, never hard failures.
type MaterialOrder struct {
	ID           string     `json:"id" db:"id,primarykey"`
	JobID        string     `json:"jobId" db:"job_id"`
	Material     string     `json:"material" db:"material"`
	Status       string     `json:"status" db:"status"`
	ExpectedDate *time.Time `json:"expectedDate" db:"expected_date"`
}

func (MaterialOrder) TableName() string { return "material_orders" }

// Material order statuses.
const (
	MaterialOrdered  = "Ordered"
	MaterialReceived = "Received"
)

// Tracking record for an operation performed by an outside vendor.
type OutsourcedOperation struct {
	ID                 string     `json:"id" db:"id,primarykey"`
	JobID              string     `json:"jobId" db:"job_id"`
	OperationSequence  int        `json:"operationSequence" db:"operation_sequence"`
	Vendor             string     `json:"vendor" db:"vendor"`
	Description        string     `json:"description" db:"description"`
	Status             string     `json:"status" db:"status"`
	ShipDate           *time.Time `json:"shipDate" db:"ship_date"`
	ExpectedReturnDate *time.Time `json:"expectedReturnDate" db:"expected_return_date"`
}

func (OutsourcedOperation) TableName() string { return "outsourced_operations" }

// Outsourced operation statuses.
const (
	OutsourcePending  = "Pending"
	OutsourceShipped  = "Shipped"
	OutsourceReturned = "Returned"
)

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeStrings(encoded string) []string {
	if encoded == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	return values
}

func encodeInts(values []int) string {
	if values == nil {
		values = []int{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func decodeInts(encoded string) []int {
	if encoded == "" {
		return nil
	}
	var values []int
	if err := json.Unmarshal([]byte(encoded), &values); err != nil {
		return nil
	}
	return values
}
