package section

import (
	"sort"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// Selector fills a SectionSlate from a score-sorted candidate pool,
// following the fill/rebalance/trim/cap algorithm in spec §4.5.
type Selector struct {
	cfg config.SectionConfig
}

// New builds a Selector bound to one run's section configuration.
func New(cfg config.SectionConfig) *Selector {
	return &Selector{cfg: cfg}
}

// Select fills a SectionSlate for userID from pool, which need not be
// pre-sorted. preferredCategories drives the EXPERIENCE_MATCH predicate.
func (s *Selector) Select(userID int64, pool []model.ScoredJob, preferredCategories map[int]struct{}, now time.Time) *model.SectionSlate {
	remaining := append([]model.ScoredJob(nil), pool...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Score.Composite > remaining[j].Score.Composite })

	median := medianHourly(remaining)
	slate := &model.SectionSlate{UserID: userID, Sections: make(map[model.SectionKind][]model.ScoredJob), GeneratedAt: now}

	for _, def := range Definitions {
		admitted := make([]model.ScoredJob, 0, def.Target)
		rest := remaining[:0:0]
		for _, item := range remaining {
			if len(admitted) >= def.Target {
				rest = append(rest, item)
				continue
			}
			_, preferred := preferredCategories[item.Job.CategoryCode]
			ctx := PredicateContext{Item: item, Now: now, PoolMedianHourly: median, PreferredCategory: preferred}
			if def.Admits(ctx) {
				admitted = append(admitted, item)
			} else {
				rest = append(rest, item)
			}
		}
		if def.RankKey != nil {
			sort.SliceStable(admitted, func(i, j int) bool { return def.RankKey(admitted[i]) > def.RankKey(admitted[j]) })
		}
		slate.Sections[def.Kind] = admitted
		remaining = rest
	}

	s.rebalance(slate)
	s.trim(slate)
	s.enforceCategoryCap(slate)

	return slate
}

func medianHourly(pool []model.ScoredJob) float64 {
	if len(pool) == 0 {
		return 0
	}
	values := make([]float64, len(pool))
	for i, item := range pool {
		values[i] = item.Job.HourlyEquivalent
	}
	sort.Float64s(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

// rebalance pulls from the largest sections exceeding min_per_section into
// any section under it, preserving score order within the receiving
// section.
func (s *Selector) rebalance(slate *model.SectionSlate) {
	minPer := s.cfg.MinPerSection
	for _, def := range Definitions {
		items := slate.Sections[def.Kind]
		for len(items) < minPer {
			donor := largestDonor(slate, minPer)
			if donor == "" {
				break
			}
			donorItems := slate.Sections[donor]
			pulled := donorItems[len(donorItems)-1]
			slate.Sections[donor] = donorItems[:len(donorItems)-1]
			items = insertByScore(items, pulled)
		}
		slate.Sections[def.Kind] = items
	}
}

func largestDonor(slate *model.SectionSlate, minPer int) model.SectionKind {
	var best model.SectionKind
	bestCount := minPer
	for _, kind := range model.OrderedSections {
		count := len(slate.Sections[kind])
		if count > bestCount {
			bestCount = count
			best = kind
		}
	}
	return best
}

func insertByScore(items []model.ScoredJob, item model.ScoredJob) []model.ScoredJob {
	idx := sort.Search(len(items), func(i int) bool { return items[i].Score.Composite < item.Score.Composite })
	items = append(items, model.ScoredJob{})
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	return items
}

// trim drops the lowest-ranked items from the lowest-priority sections
// until the grand total is at most cfg.Total, keeping each section at or
// above min_per_section where possible.
func (s *Selector) trim(slate *model.SectionSlate) {
	total := s.cfg.Total
	minPer := s.cfg.MinPerSection

	for slate.Total() > total {
		trimmed := false
		for i := len(model.OrderedSections) - 1; i >= 0; i-- {
			kind := model.OrderedSections[i]
			items := slate.Sections[kind]
			if len(items) > minPer {
				slate.Sections[kind] = items[:len(items)-1]
				trimmed = true
				break
			}
		}
		if !trimmed {
			break
		}
	}
}

// enforceCategoryCap demotes excess same-company items into OTHER, or drops
// them when OTHER is already at its maximum. The cap bounds company_code,
// not category_code, despite the cfg.MaxJobsPerCategory name.
func (s *Selector) enforceCategoryCap(slate *model.SectionSlate) {
	maxPerCategory := s.cfg.MaxJobsPerCategory
	total := slate.CompanyCounts()
	kept := make(map[string]int, len(total))

	for _, kind := range model.OrderedSections {
		if kind == model.SectionOther {
			continue
		}
		items := slate.Sections[kind][:0]
		for _, item := range slate.Sections[kind] {
			company := item.Job.CompanyCode
			if total[company] > maxPerCategory {
				kept[company]++
				if kept[company] > maxPerCategory {
					other := slate.Sections[model.SectionOther]
					if len(other) < s.cfg.MaxPerSection {
						slate.Sections[model.SectionOther] = append(other, item)
					}
					continue
				}
			}
			items = append(items, item)
		}
		slate.Sections[kind] = items
	}
}
