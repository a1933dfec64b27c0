// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package ingest loads jobs from ERP CSV exports and seeds the machine
// fleet from its yaml description.
package ingest

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// ErrInvalidCSV marks uploads that cannot be imported at all, as
// opposed to row-level problems the import skips past.
var ErrInvalidCSV = errors.New("invalid CSV")

// Columns the ERP export must carry. Header names are matched after
// trimming whitespace, in any order.
var requiredColumns = []string{
	"Job",
	"Customer",
	"Est_Required_Qty",
	"WC_Vendor",
	"Lead_Days",
	"Order_Date",
	"Promised_Date",
	"Est Total Hours",
	"Link_Material",
	"Status",
	"Material",
	"Sequence",
	"AMT Workcenter & Vendor",
	"Vendor",
	"Part Description",
}

// Date layouts seen in ERP exports, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"1/2/2006",
	"01/02/2006",
	"1/2/06",
}

// ImportReport sums up one CSV import run.
type ImportReport struct {
	JobsCreated int `json:"jobsCreated"`
	JobsUpdated int `json:"jobsUpdated"`
	RowsSkipped int `json:"rowsSkipped"`
	// Row-level problems, e.g. malformed dates. The import continues
	// past them.
	Errors []string `json:"errors,omitempty"`
}

// JobImporter turns ERP CSV exports into jobs with routings.
type JobImporter struct {
	Store shop.Store
}

// One CSV row addressed by column name.
type csvRow struct {
	line   int
	fields []string
	index  map[string]int
}

func (r csvRow) get(column string) string {
	i, ok := r.index[column]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return strings.TrimSpace(r.fields[i])
}

// Import reads the export and upserts one job per distinct Job column
// value, with one routing operation per row. Existing jobs keep their
// status and schedule; their master data and routing are replaced.
func (i *JobImporter) Import(reader io.Reader) (ImportReport, error) {
	report := ImportReport{}
	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1
	csvReader.TrimLeadingSpace = true

	header, err := csvReader.Read()
	if err != nil {
		return report, fmt.Errorf("%w: failed to read header: %v", ErrInvalidCSV, err)
	}
	index := map[string]int{}
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return report, fmt.Errorf("%w: missing required columns: %s", ErrInvalidCSV, strings.Join(missing, ", "))
	}

	// Group rows by job number, keeping the order of first appearance.
	var jobNumbers []string
	rowsByJob := map[string][]csvRow{}
	line := 1
	for {
		line++
		fields, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.RowsSkipped++
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		row := csvRow{line: line, fields: fields, index: index}
		jobNumber := row.get("Job")
		if jobNumber == "" {
			report.RowsSkipped++
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: empty Job column", line))
			continue
		}
		if _, seen := rowsByJob[jobNumber]; !seen {
			jobNumbers = append(jobNumbers, jobNumber)
		}
		rowsByJob[jobNumber] = append(rowsByJob[jobNumber], row)
	}

	for _, jobNumber := range jobNumbers {
		if err := i.importJob(jobNumber, rowsByJob[jobNumber], &report); err != nil {
			return report, err
		}
	}
	slog.Info("csv import finished",
		"created", report.JobsCreated,
		"updated", report.JobsUpdated,
		"skipped", report.RowsSkipped,
	)
	return report, nil
}

// Upsert one job together with its routing.
func (i *JobImporter) importJob(jobNumber string, rows []csvRow, report *ImportReport) error {
	first := rows[0]
	job := shop.Job{
		JobNumber:       jobNumber,
		Customer:        first.get("Customer"),
		Description:     first.get("Part Description"),
		Material:        first.get("Material"),
		MaterialOnOrder: materialOnOrder(first.get("Link_Material")),
		Status:          jobStatus(first.get("Status")),
	}
	if qty := first.get("Est_Required_Qty"); qty != "" {
		parsed, err := strconv.Atoi(qty)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Est_Required_Qty %q", first.line, qty))
		} else {
			job.Quantity = parsed
		}
	}
	if date := first.get("Order_Date"); date != "" {
		parsed, err := parseDate(date)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Order_Date %q", first.line, date))
		} else {
			job.OrderDate = parsed
		}
	}
	if date := first.get("Promised_Date"); date != "" {
		parsed, err := parseDate(date)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Promised_Date %q", first.line, date))
		} else {
			job.PromisedDate = parsed
			job.DueDate = parsed
		}
	}

	var ops []shop.RoutingOperation
	for _, row := range rows {
		sequenceRaw := row.get("Sequence")
		sequence, err := strconv.Atoi(sequenceRaw)
		if err != nil {
			report.RowsSkipped++
			report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Sequence %q", row.line, sequenceRaw))
			continue
		}
		hours := 0.0
		if raw := row.get("Est Total Hours"); raw != "" {
			hours, err = strconv.ParseFloat(raw, 64)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Est Total Hours %q", row.line, raw))
				hours = 0
			}
		}
		workCenter := row.get("WC_Vendor")
		vendor := row.get("Vendor")
		name := row.get("AMT Workcenter & Vendor")
		if name == "" {
			name = workCenter
		}
		machineType := machineTypeFor(workCenter, vendor)
		ops = append(ops, shop.RoutingOperation{
			Sequence:       sequence,
			Name:           name,
			MachineType:    machineType,
			EstimatedHours: hours,
		})
		if machineType == shop.MachineTypeOutsource {
			// The campaign fields live on the job, from its last
			// outsourced step.
			job.OutsourceVendor = vendor
			if raw := row.get("Lead_Days"); raw != "" {
				if lead, err := strconv.Atoi(raw); err == nil {
					job.LeadDays = lead
				} else {
					report.Errors = append(report.Errors, fmt.Sprintf("line %d: bad Lead_Days %q", row.line, raw))
				}
			}
		}
	}
	if len(ops) == 0 {
		// Every row of the group was already counted as skipped.
		report.Errors = append(report.Errors, fmt.Sprintf("job %s: no usable routing rows", jobNumber))
		return nil
	}

	existing, err := i.Store.GetJobByNumber(jobNumber)
	switch {
	case err == nil:
		// Master data follows the export; scheduling state stays.
		job.ID = existing.ID
		job.Status = existing.Status
		job.CreatedDate = existing.CreatedDate
		job.Priority = existing.Priority
		if err := i.Store.UpdateJob(&job); err != nil {
			return fmt.Errorf("failed to update job %s: %w", jobNumber, err)
		}
		report.JobsUpdated++
	case errors.Is(err, sql.ErrNoRows):
		if err := i.Store.CreateJob(&job); err != nil {
			return fmt.Errorf("failed to create job %s: %w", jobNumber, err)
		}
		report.JobsCreated++
	default:
		return fmt.Errorf("failed to look up job %s: %w", jobNumber, err)
	}
	if err := i.Store.ReplaceRouting(job.ID, ops); err != nil {
		return fmt.Errorf("failed to store routing for job %s: %w", jobNumber, err)
	}
	return nil
}

// Derive the semantic machine bucket from the export's work center and
// vendor columns.
func machineTypeFor(workCenter, vendor string) string {
	if vendor != "" {
		return shop.MachineTypeOutsource
	}
	wc := strings.ToUpper(workCenter)
	switch {
	case strings.Contains(wc, "VENDOR") || strings.Contains(wc, "OSV"):
		return shop.MachineTypeOutsource
	case strings.Contains(wc, "SAW"):
		return shop.MachineTypeSaw
	case strings.Contains(wc, "WATERJET") || strings.Contains(wc, "WJ"):
		return shop.MachineTypeWaterjet
	case strings.Contains(wc, "INSPECT") || strings.Contains(wc, "CMM") || strings.Contains(wc, "QC"):
		return shop.MachineTypeInspect
	case strings.Contains(wc, "LATHE") || strings.Contains(wc, "TURN") || strings.Contains(wc, "ST-"):
		return shop.MachineTypeLathe
	default:
		return shop.MachineTypeMill
	}
}

// A non-empty material link means the stock is bought but not yet on
// the floor. Material issues warn, they never block.
func materialOnOrder(link string) bool {
	return link != "" && link != "0"
}

func jobStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "", "open", "active", "released", "firm":
		return shop.JobStatusOpen
	case "closed", "complete", "completed", "done":
		return shop.JobStatusComplete
	}
	return raw
}

func parseDate(value string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}
