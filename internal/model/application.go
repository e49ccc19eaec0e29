package model

import "time"

// Application is a history row used by the deduplicator and the personal
// score's application-history component.
type Application struct {
	UserID      int64
	CompanyCode string
	AppliedAt   time.Time
	CategoryCode int
	Prefecture   string
	Salary       *int
}

// Valid reports whether the row has a usable AppliedAt. Malformed rows are
// skipped by the deduplicator and counted in dedup.Result.SkippedRows rather
// than rejected outright; the Matching Orchestrator does not log that count.
func (a Application) Valid() bool {
	return !a.AppliedAt.IsZero()
}
