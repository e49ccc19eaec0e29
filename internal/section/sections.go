// Package section implements the Section Selector (C4, spec §4.5): fills
// six fixed, ordered sections from a score-sorted candidate pool.
package section

import (
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Definition describes one of the six fixed sections: its fill target, its
// priority (fill order), and its admission predicate.
type Definition struct {
	Kind      model.SectionKind
	Target    int
	Priority  int
	Admits    func(ctx PredicateContext) bool
	RankKey   func(item model.ScoredJob) float64
}

// PredicateContext carries the per-pool facts an admission predicate needs
// beyond the candidate item itself (pool median, user preferences).
type PredicateContext struct {
	Item              model.ScoredJob
	Now               time.Time
	PoolMedianHourly  float64
	PreferredCategory bool
}

// Definitions lists the six sections in priority order, matching the table
// in spec §4.5 exactly.
var Definitions = []Definition{
	{
		Kind:     model.SectionEditorialPicks,
		Target:   8,
		Priority: 1,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 80 && c.Item.Job.AgeAt(c.Now) <= 24*time.Hour
		},
	},
	{
		Kind:     model.SectionHighSalary,
		Target:   7,
		Priority: 2,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 70 && c.Item.Job.HourlyEquivalent > c.PoolMedianHourly
		},
	},
	{
		Kind:     model.SectionExperienceMatch,
		Target:   7,
		Priority: 3,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 60 && c.PreferredCategory
		},
		RankKey: func(item model.ScoredJob) float64 { return item.Score.Composite * 2 },
	},
	{
		Kind:     model.SectionLocationConvenient,
		Target:   6,
		Priority: 4,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 60 && c.Item.Score.Components["location_sub"] >= 80
		},
	},
	{
		Kind:     model.SectionWeekendShort,
		Target:   6,
		Priority: 5,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 55 &&
				(c.Item.Job.Features.Has(model.FeatureWeekendOK) || c.Item.Job.Features.Has(model.FeatureShortTime))
		},
	},
	{
		Kind:     model.SectionOther,
		Target:   6,
		Priority: 6,
		Admits: func(c PredicateContext) bool {
			return c.Item.Score.Composite >= 50
		},
	},
}
