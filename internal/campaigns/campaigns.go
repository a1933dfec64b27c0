// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package campaigns batches jobs whose routing ends in the same
// outsourced operation so they can leave for the vendor in one
// shipment.
package campaigns

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Internal buffer between the last operation on the floor and the
// shipment leaving for the vendor.
const shippingBufferDays = 7

// A group of jobs that ship to the same vendor for the same outsourced
// operation in one shipment. The ship date is a hard latest finish for
// the last internal operation of every member job.
type Campaign struct {
	ID        string    `json:"id"`
	Vendor    string    `json:"vendor"`
	Operation string    `json:"operation"`
	JobIDs    []string  `json:"jobIds"`
	ShipDate  time.Time `json:"shipDate"`
}

// LastSafeShipDate returns the latest date the job can leave the shop
// and still return from the vendor before the promised date.
func LastSafeShipDate(job shop.Job) time.Time {
	return job.PromisedDate.AddDate(0, 0, -(job.LeadDays + shippingBufferDays))
}

// FinalOutsourcedOp returns the last operation of the routing if that
// operation is outsourced.
func FinalOutsourcedOp(routing []shop.RoutingOperation) (shop.RoutingOperation, bool) {
	if len(routing) == 0 {
		return shop.RoutingOperation{}, false
	}
	last := routing[len(routing)-1]
	if last.Kind() != shop.OpKindOutsource {
		return shop.RoutingOperation{}, false
	}
	return last, true
}

// Manager groups jobs into shipping campaigns and answers which
// campaign a job belongs to.
type Manager struct {
	// Mutex to protect concurrent access to the campaigns.
	mu        sync.RWMutex
	campaigns []Campaign
	byJobID   map[string]Campaign
}

func NewManager() *Manager {
	return &Manager{byJobID: map[string]Campaign{}}
}

// Build regroups the given jobs into campaigns and replaces the
// manager's state with the result.
//
// Jobs are considered in the order given, so callers decide which job
// founds a campaign (the batch driver passes jobs in priority order).
// A job joins an existing campaign only if its own last safe ship date
// is not before the campaign's, so admitting it never pulls the
// shipment earlier for the members already in it. A job whose last
// safe ship date already passed ships alone; nothing may join a
// shipment that is already late.
func (m *Manager) Build(
	jobs []shop.Job,
	routings map[string][]shop.RoutingOperation,
	now time.Time,
) []Campaign {
	type groupKey struct{ vendor, operation string }
	open := map[groupKey][]*Campaign{}
	var built []*Campaign
	for _, job := range jobs {
		op, ok := FinalOutsourcedOp(routings[job.ID])
		if !ok {
			continue
		}
		shipDate := LastSafeShipDate(job)
		key := groupKey{vendor: job.OutsourceVendor, operation: op.Name}
		joined := false
		for _, campaign := range open[key] {
			if shipDate.Before(campaign.ShipDate) {
				continue
			}
			campaign.JobIDs = append(campaign.JobIDs, job.ID)
			joined = true
			break
		}
		if joined {
			continue
		}
		campaign := &Campaign{
			ID:        uuid.NewString(),
			Vendor:    job.OutsourceVendor,
			Operation: op.Name,
			JobIDs:    []string{job.ID},
			ShipDate:  shipDate,
		}
		built = append(built, campaign)
		if !shipDate.Before(now) {
			open[key] = append(open[key], campaign)
		}
	}

	campaigns := lo.Map(built, func(c *Campaign, _ int) Campaign { return *c })
	byJobID := make(map[string]Campaign, len(jobs))
	for _, campaign := range campaigns {
		for _, jobID := range campaign.JobIDs {
			byJobID[jobID] = campaign
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns = campaigns
	m.byJobID = byJobID
	return campaigns
}

// Campaigns returns the campaigns from the last build.
func (m *Manager) Campaigns() []Campaign {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Campaign, len(m.campaigns))
	copy(out, m.campaigns)
	return out
}

// CampaignForJob returns the campaign the job belongs to, if any.
func (m *Manager) CampaignForJob(jobID string) (Campaign, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	campaign, ok := m.byJobID[jobID]
	return campaign, ok
}

// ShipDateForJob returns the campaign ship date constraining the job's
// last internal operation, if the job ships to a vendor.
func (m *Manager) ShipDateForJob(jobID string) (time.Time, bool) {
	campaign, ok := m.CampaignForJob(jobID)
	if !ok {
		return time.Time{}, false
	}
	return campaign.ShipDate, true
}
