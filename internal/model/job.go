package model

import "time"

// SalaryType is the unit a job's salary figures are quoted in.
type SalaryType string

const (
	SalaryHourly  SalaryType = "hourly"
	SalaryDaily   SalaryType = "daily"
	SalaryMonthly SalaryType = "monthly"
)

// Feature is a single bit in a Job's feature bitset.
type Feature uint16

const (
	FeatureDailyPayment Feature = 1 << iota
	FeatureNoExperience
	FeatureStudentWelcome
	FeatureTransportation
	FeatureRemoteWork
	FeatureWeekendOK
	FeatureShortTime
)

// Has reports whether f is set in the bitset.
func (b Feature) Has(f Feature) bool { return b&f != 0 }

// Job is a single posting ingested by the nightly batch. CompanyCode is the
// deduplication identity: it, not JobID, is what the dedup window keys on.
type Job struct {
	JobID            int64
	CompanyCode      string
	Title            string
	RequiredSkills   []string
	PreferredSkills  []string
	CategoryCode     int
	PrefectureCode   string
	CityCode         string
	StationName      string
	Address          string
	SalaryType       SalaryType
	MinSalary        *int
	MaxSalary        *int
	Fee              int
	Features         Feature
	PostedAt         time.Time
	CreatedAt        time.Time

	// HourlyEquivalent is derived once at import time (spec §9 vectorization
	// note: pre-compute derived fields so the scoring inner loop never
	// recomputes them per user).
	HourlyEquivalent float64
}

// IsRemote reports whether the posting has the FeatureRemoteWork bit set.
func (j *Job) IsRemote() bool {
	return j.Features.Has(FeatureRemoteWork)
}

// AgeAt returns how old the posting is relative to t.
func (j *Job) AgeAt(t time.Time) time.Duration {
	return t.Sub(j.PostedAt)
}

// HourlyEquivalentOf converts a salary figure to an hourly equivalent
// following the spec's normalization: daily/8, monthly/160.
func HourlyEquivalentOf(salaryType SalaryType, amount int) float64 {
	switch salaryType {
	case SalaryDaily:
		return float64(amount) / 8
	case SalaryMonthly:
		return float64(amount) / 160
	default:
		return float64(amount)
	}
}
