// Package dedup implements the Deduplicator (C5, spec §4.4): remove any
// candidate job whose company the user already applied to within the
// configured window. Plain map-backed set construction is used rather than
// a library — the operation is a single hash-set build plus O(|jobs|) scan,
// which has no meaningful library surface to outsource to in this corpus.
package dedup

import (
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Result reports the filtered candidate set plus the count of application
// rows skipped for being malformed (missing/invalid applied_at), which spec
// §4.4 treats as a warning, not a failure.
type Result struct {
	Filtered      []model.Job
	SkippedRows   int
	ExcludedCount int
}

// Filter removes jobs whose company_code appears among apps with
// applied_at within windowDays of now. Built once per user as a hash set,
// O(|jobs|) to scan.
func Filter(jobs []model.Job, apps []model.Application, windowDays int, now time.Time) Result {
	cutoff := now.AddDate(0, 0, -windowDays)

	excluded := make(map[string]struct{})
	skipped := 0
	for _, app := range apps {
		if !app.Valid() {
			skipped++
			continue
		}
		if !app.AppliedAt.Before(cutoff) {
			excluded[app.CompanyCode] = struct{}{}
		}
	}

	filtered := make([]model.Job, 0, len(jobs))
	excludedCount := 0
	for _, job := range jobs {
		if _, skip := excluded[job.CompanyCode]; skip {
			excludedCount++
			continue
		}
		filtered = append(filtered, job)
	}

	return Result{Filtered: filtered, SkippedRows: skipped, ExcludedCount: excludedCount}
}
