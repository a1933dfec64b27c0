// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package priority

import (
	"testing"
	"time"

	"github.com/shopfloor-dev/foreman/internal/shop"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestScore(t *testing.T) {
	now := day(2026, 3, 9)
	tests := []struct {
		name     string
		job      shop.Job
		expected int
	}{
		{
			name: "late to customer",
			job: shop.Job{
				JobNumber:    "J1001",
				OrderDate:    day(2026, 1, 5),
				PromisedDate: day(2026, 3, 1),
				DueDate:      day(2026, 2, 20),
			},
			expected: ScoreLateToCustomer,
		},
		{
			name: "late to us but not to customer",
			job: shop.Job{
				JobNumber:    "J1002",
				OrderDate:    day(2026, 2, 1),
				PromisedDate: day(2026, 4, 1),
				DueDate:      day(2026, 3, 5),
			},
			expected: ScoreLateToUs,
		},
		{
			name: "nearing ship",
			job: shop.Job{
				JobNumber:    "J1003",
				OrderDate:    day(2026, 2, 20),
				PromisedDate: day(2026, 4, 15),
				DueDate:      day(2026, 4, 1),
			},
			expected: ScoreNearingShip,
		},
		{
			name: "normal",
			job: shop.Job{
				JobNumber:    "J1004",
				OrderDate:    day(2026, 3, 5),
				PromisedDate: day(2026, 5, 1),
				DueDate:      day(2026, 4, 20),
			},
			expected: ScoreNormal,
		},
		{
			name: "stock job stays stock even when late",
			job: shop.Job{
				JobNumber:    "S2001",
				OrderDate:    day(2026, 1, 5),
				PromisedDate: day(2026, 2, 1),
				DueDate:      day(2026, 1, 20),
			},
			expected: ScoreStock,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if score := Score(tt.job, now); score != tt.expected {
				t.Errorf("expected score %d, got %d", tt.expected, score)
			}
		})
	}
}

func TestScoreNearingShipBoundary(t *testing.T) {
	// Ordered 2026-02-16, so the expected ship date is 2026-03-09.
	job := shop.Job{
		JobNumber:    "J1005",
		OrderDate:    day(2026, 2, 16),
		PromisedDate: day(2026, 4, 15),
		DueDate:      day(2026, 4, 1),
	}
	// Exactly seven days out counts as nearing shipment.
	if score := Score(job, day(2026, 3, 2)); score != ScoreNearingShip {
		t.Errorf("expected score %d at window boundary, got %d", ScoreNearingShip, score)
	}
	// Eight days out does not.
	if score := Score(job, day(2026, 3, 1)); score != ScoreNormal {
		t.Errorf("expected score %d outside window, got %d", ScoreNormal, score)
	}
}

func TestBucket(t *testing.T) {
	tests := []struct {
		score    int
		expected string
	}{
		{ScoreLateToCustomer, BucketLateToCustomer},
		{ScoreLateToUs, BucketLateToUs},
		{ScoreNearingShip, BucketNearingShip},
		{ScoreNormal, BucketNormal},
		{ScoreStock, BucketStock},
		{42, BucketNormal},
	}
	for _, tt := range tests {
		if name := Bucket(tt.score); name != tt.expected {
			t.Errorf("expected bucket %q for score %d, got %q", tt.expected, tt.score, name)
		}
	}
}

func TestSort(t *testing.T) {
	now := day(2026, 3, 9)
	jobs := []shop.Job{
		{
			ID: "job-normal", JobNumber: "J1004",
			OrderDate: day(2026, 3, 5), PromisedDate: day(2026, 5, 1), DueDate: day(2026, 4, 20),
		},
		{
			ID: "job-stock", JobNumber: "S2001",
			OrderDate: day(2026, 1, 5), PromisedDate: day(2026, 2, 1), DueDate: day(2026, 1, 20),
		},
		{
			ID: "job-late", JobNumber: "J1001",
			OrderDate: day(2026, 1, 5), PromisedDate: day(2026, 3, 1), DueDate: day(2026, 2, 20),
		},
		{
			ID: "job-due", JobNumber: "J1002",
			OrderDate: day(2026, 2, 1), PromisedDate: day(2026, 4, 1), DueDate: day(2026, 3, 5),
		},
	}
	Sort(jobs, now)
	expected := []string{"job-late", "job-due", "job-normal", "job-stock"}
	for i, id := range expected {
		if jobs[i].ID != id {
			t.Errorf("expected job %q at position %d, got %q", id, i, jobs[i].ID)
		}
	}
}

func TestSortTieBreaks(t *testing.T) {
	now := day(2026, 3, 9)
	// All three jobs are late to the customer, so the promised date and
	// then the job number decide the order.
	jobs := []shop.Job{
		{
			ID: "job-c", JobNumber: "J1003",
			OrderDate: day(2026, 1, 5), PromisedDate: day(2026, 3, 2), DueDate: day(2026, 2, 20),
		},
		{
			ID: "job-b", JobNumber: "J1002",
			OrderDate: day(2026, 1, 5), PromisedDate: day(2026, 3, 1), DueDate: day(2026, 2, 20),
		},
		{
			ID: "job-a", JobNumber: "J1001",
			OrderDate: day(2026, 1, 5), PromisedDate: day(2026, 3, 2), DueDate: day(2026, 2, 20),
		},
	}
	Sort(jobs, now)
	expected := []string{"job-b", "job-a", "job-c"}
	for i, id := range expected {
		if jobs[i].ID != id {
			t.Errorf("expected job %q at position %d, got %q", id, i, jobs[i].ID)
		}
	}
}
