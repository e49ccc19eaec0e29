// Package supplement implements the Supplementer (C6, spec §4.6): tops up
// an undersized slate first by widening the candidate pool, then by
// synthesizing policy-compliant fallback items.
package supplement

import (
	"context"

	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// JobSource re-scores a widened candidate pool; the Matching Orchestrator
// supplies this so the Supplementer never talks to the repository directly.
type JobSource interface {
	WidenedCandidates(ctx context.Context, user model.User, dropLocationFilter, dropCategoryFilter bool) ([]model.ScoredJob, error)
}

// LLMEnricher optionally rewrites a synthetic fallback's presentation copy.
// Disabled, erroring, or timing out always falls back to the templated
// copy below — enrichment is cosmetic, never required for correctness
// (spec §1, SPEC_FULL.md §4.6).
type LLMEnricher interface {
	EnrichFallbackCopy(ctx context.Context, user model.User) (title string, ok bool)
}

// Supplementer fills a slate short of model.SlateTotal items.
type Supplementer struct {
	source   JobSource
	enricher LLMEnricher
}

// New builds a Supplementer. enricher may be nil to disable LLM copy
// enrichment entirely.
func New(source JobSource, enricher LLMEnricher) *Supplementer {
	return &Supplementer{source: source, enricher: enricher}
}

// Result reports how a short slate was topped up, for run metrics.
type Result struct {
	WidenedAdded   int
	SyntheticAdded int
}

// Supplement tops up slate in place until it reaches model.SlateTotal,
// first by widening the pool (drop location filter, then category filter),
// then by synthesizing fallback items.
func (s *Supplementer) Supplement(ctx context.Context, user model.User, slate *model.SectionSlate) Result {
	var result Result
	needed := model.SlateTotal - slate.Total()
	if needed <= 0 {
		return result
	}

	existing := existingJobIDs(slate)

	if s.source != nil {
		for _, widen := range []struct{ dropLocation, dropCategory bool }{
			{true, false},
			{true, true},
		} {
			if needed <= 0 {
				break
			}
			widened, err := s.source.WidenedCandidates(ctx, user, widen.dropLocation, widen.dropCategory)
			if err != nil {
				continue
			}
			for _, item := range widened {
				if needed <= 0 {
					break
				}
				if _, dup := existing[item.Job.JobID]; dup {
					continue
				}
				existing[item.Job.JobID] = struct{}{}
				slate.Sections[model.SectionOther] = append(slate.Sections[model.SectionOther], item)
				needed--
				result.WidenedAdded++
			}
		}
	}

	for i := 0; i < needed; i++ {
		slate.Sections[model.SectionOther] = append(slate.Sections[model.SectionOther], s.synthesizeFallback(ctx, user, i))
		result.SyntheticAdded++
	}

	return result
}

// synthesizeFallback builds a policy-compliant placeholder item per
// spec §4.6: composite=25, is_fallback=true, category "General", using the
// user's preferred salary as min_salary.
func (s *Supplementer) synthesizeFallback(ctx context.Context, user model.User, seq int) model.ScoredJob {
	title := "General opportunities matching your profile"
	if s.enricher != nil {
		if enriched, ok := s.enricher.EnrichFallbackCopy(ctx, user); ok {
			title = enriched
		}
	}

	job := model.Job{
		JobID:        fallbackJobID(user.UserID, seq),
		CompanyCode:  "FALLBACK",
		Title:        title,
		CategoryCode: 0, // 0 is the placeholder "General" category — never resolved against occupation_master.
		MinSalary:    user.PreferredSalaryMin,
	}

	return model.ScoredJob{
		Job:        job,
		Score:      model.MatchScore{UserID: user.UserID, JobID: job.JobID, Composite: 25},
		IsFallback: true,
	}
}

// fallbackJobID produces a negative, run-local synthetic ID so it can never
// collide with a real job_id from the repository.
func fallbackJobID(userID int64, seq int) int64 {
	return -(userID*1000 + int64(seq) + 1)
}

func existingJobIDs(slate *model.SectionSlate) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, items := range slate.Sections {
		for _, item := range items {
			ids[item.Job.JobID] = struct{}{}
		}
	}
	return ids
}

// CategoryLabel is the string the spec's "General" placeholder category
// renders as; flagged (not silently resolved) per the Open Question 3
// decision — CategoryCode 0 never appears in occupation_master.
const CategoryLabel = "General"
