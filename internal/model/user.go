package model

import "time"

// AgeGroup buckets a user's age for student-band and copy-personalization rules.
type AgeGroup string

const (
	AgeGroupTeens       AgeGroup = "10s"
	AgeGroupEarly20s    AgeGroup = "20s-early"
	AgeGroupLate20s     AgeGroup = "20s-late"
	AgeGroupThirties    AgeGroup = "30s"
	AgeGroupFortiesPlus AgeGroup = "40s+"
)

// IsStudentBand reports whether the age group is treated as a student
// population for the student-welcome bonus (spec §4.3.4).
func (a AgeGroup) IsStudentBand() bool {
	return a == AgeGroupTeens || a == AgeGroupEarly20s
}

// User is an active recipient of the nightly shortlist.
type User struct {
	UserID               int64
	Email                string
	PrefectureCode       string
	CityCode             string
	AgeGroup             AgeGroup
	Gender               string
	PreferredCategories  map[int]struct{}
	PreferredSalaryMin   *int
	PreferredWorkStyles  map[string]struct{}
	ExperienceLevel      int // ordinal 1..5, 0 = unknown
	EmailEnabled         bool
	IsActive             bool
}

// HasPreferredCategory reports whether code is one of the user's preferred
// categories.
func (u *User) HasPreferredCategory(code int) bool {
	_, ok := u.PreferredCategories[code]
	return ok
}

// UserBehavior summarizes a user's observed activity, feeding the personal
// score's application-history and click-pattern components.
type UserBehavior struct {
	Applications int
	Clicks       int
	Views        int
	AvgSalary    *int
	LastActive   *time.Time
}

// UserProfile is a derived, optional hint. Its absence must never fail
// scoring (spec §3); callers fall back to documented defaults.
//
// Loaded synchronously before first use per the Open Question 4 decision in
// SPEC_FULL.md — there is no async constructor path here.
type UserProfile struct {
	UserID            int64
	Behavior          UserBehavior
	PreferenceScores  map[string]float64 // in [0,1]
	CategoryInterest  map[int]float64    // in [0,1]
	LatentFactors     []float64
	UpdatedAt         time.Time
}

// PreferenceScore returns the score for key, or 0 if the profile lacks it.
func (p *UserProfile) PreferenceScore(key string) float64 {
	if p == nil {
		return 0
	}
	return p.PreferenceScores[key]
}
