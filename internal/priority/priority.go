// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package priority scores jobs into buckets and orders batches so that
// the most urgent work is placed first.
package priority

import (
	"sort"
	"strings"
	"time"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

// Priority scores, descending. A higher score is placed earlier.
const (
	ScoreLateToCustomer = 500
	ScoreLateToUs       = 400
	ScoreNearingShip    = 300
	ScoreNormal         = 200
	ScoreStock          = 100
)

// Bucket names as shown to the shop floor.
const (
	BucketLateToCustomer = "late_to_customer"
	BucketLateToUs       = "late_to_us"
	BucketNearingShip    = "nearing_ship"
	BucketNormal         = "normal"
	BucketStock          = "stock"
)

// Target turnaround from order to shipment, used to detect jobs that
// are getting close to their expected ship window.
const nearingShipTurnaround = 21 * 24 * time.Hour

// Window before the expected ship date in which a job counts as
// nearing shipment.
const nearingShipWindow = 7 * 24 * time.Hour

// Prefix of job numbers that mark internal stock replenishment work.
const stockJobPrefix = "S"

// Score returns the priority score of the job at the given time.
//
// The stock rule is checked before everything else: a stock job scores
// the lowest bucket even when it is past its promised date. All other
// jobs escalate as their dates slip, first past the internal due date
// and then past the date promised to the customer.
func Score(job shop.Job, now time.Time) int {
	if strings.HasPrefix(job.JobNumber, stockJobPrefix) {
		return ScoreStock
	}
	if now.After(job.PromisedDate) {
		return ScoreLateToCustomer
	}
	if now.After(job.DueDate) {
		return ScoreLateToUs
	}
	expectedShip := job.OrderDate.Add(nearingShipTurnaround)
	if expectedShip.Sub(now) <= nearingShipWindow {
		return ScoreNearingShip
	}
	return ScoreNormal
}

// Bucket returns the human readable name for a priority score.
func Bucket(score int) string {
	switch score {
	case ScoreLateToCustomer:
		return BucketLateToCustomer
	case ScoreLateToUs:
		return BucketLateToUs
	case ScoreNearingShip:
		return BucketNearingShip
	case ScoreStock:
		return BucketStock
	default:
		return BucketNormal
	}
}

// Sort orders the jobs in place by descending priority score. Jobs with
// equal score are ordered by earlier promised date, then by job number,
// so a batch always runs in the same order.
func Sort(jobs []shop.Job, now time.Time) {
	scores := make(map[string]int, len(jobs))
	for _, job := range jobs {
		scores[job.ID] = Score(job, now)
	}
	sort.Slice(jobs, func(i, j int) bool {
		si, sj := scores[jobs[i].ID], scores[jobs[j].ID]
		if si != sj {
			return si > sj
		}
		if !jobs[i].PromisedDate.Equal(jobs[j].PromisedDate) {
			return jobs[i].PromisedDate.Before(jobs[j].PromisedDate)
		}
		return jobs[i].JobNumber < jobs[j].JobNumber
	})
}
