// Package matching implements the Matching Orchestrator (C7, spec §4.7):
// per-user pipeline of dedup -> score -> select -> supplement, dispatched
// across a bounded worker pool. The semaphore + WaitGroup + mutex-aggregated
// stats shape is grounded on otc-api-server's
// internal/services/scoring_pipeline.go processBatch/executeScoringCycle.
package matching

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/dedup"
	"github.com/nagata-labs/shortlist-batch/internal/model"
	"github.com/nagata-labs/shortlist-batch/internal/repository"
	"github.com/nagata-labs/shortlist-batch/internal/scoring"
	"github.com/nagata-labs/shortlist-batch/internal/section"
	"github.com/nagata-labs/shortlist-batch/internal/supplement"
)

// TopN is the candidate pool size carried from the scored list into the
// Section Selector (spec §4.7 step 4).
const TopN = 200

// UserFailure records one user's pipeline failure for the run's error
// summary, per the {user_id, error} shape in spec §4.7.
type UserFailure struct {
	UserID int64
	Err    error
}

// Stats aggregates one MATCHING phase invocation's outcome.
type Stats struct {
	UsersTotal     int
	UsersSucceeded int
	UsersFailed    int
	FallbacksUsed  int
	Failures       []UserFailure
}

// FailureRate returns the fraction of processed users that failed.
func (s Stats) FailureRate() float64 {
	if s.UsersTotal == 0 {
		return 0
	}
	return float64(s.UsersFailed) / float64(s.UsersTotal)
}

// Orchestrator runs the per-user matching pipeline over a bounded worker
// pool, sized and strategized per spec §5's concurrency model.
type Orchestrator struct {
	gateway     repository.Gateway
	cache       *cache.Tiers
	transient   *cache.Transient
	engine      *scoring.Engine
	selector    *section.Selector
	enricher    supplement.LLMEnricher
	cfg         config.MatchingConfig
	dedupWindow int
}

// New wires an Orchestrator from its collaborators. enricher may be nil
// to disable LLM fallback-copy enrichment.
func New(
	gateway repository.Gateway,
	tiers *cache.Tiers,
	transient *cache.Transient,
	engine *scoring.Engine,
	selector *section.Selector,
	enricher supplement.LLMEnricher,
	cfg config.MatchingConfig,
	dedupWindowDays int,
) *Orchestrator {
	return &Orchestrator{
		gateway:     gateway,
		cache:       tiers,
		transient:   transient,
		engine:      engine,
		selector:    selector,
		enricher:    enricher,
		cfg:         cfg,
		dedupWindow: dedupWindowDays,
	}
}

// UserResult is one user's emitted output: the MatchScore rows for their
// slate and the slate itself (spec §4.7 step 7).
type UserResult struct {
	UserID int64
	Scores []model.MatchScore
	Slate  *model.SectionSlate
}

// Run processes every user in users against candidateJobs, honoring the
// concurrency strategy from config. Results are streamed to onResult as
// each user finishes; ordering across users is not guaranteed
// (spec §5 ordering guarantees).
func (o *Orchestrator) Run(ctx context.Context, users []model.User, candidateJobs []model.Job, onResult func(UserResult)) Stats {
	strategy := o.resolveStrategy(len(users), len(candidateJobs))

	workers := 1
	if strategy != config.StrategySequential {
		workers = o.cfg.MaxParallelWorkers
		if workers < 1 {
			workers = 1
		}
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	stats.UsersTotal = len(users)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, user := range users {
		user := user
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			select {
			case <-ctx.Done():
				return
			default:
			}

			result, fallbacks, err := o.processUser(ctx, user, candidateJobs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.UsersFailed++
				stats.Failures = append(stats.Failures, UserFailure{UserID: user.UserID, Err: err})
				return
			}
			stats.UsersSucceeded++
			stats.FallbacksUsed += fallbacks
			onResult(result)
		}()
	}
	wg.Wait()

	return stats
}

// resolveStrategy implements the ADAPTIVE default from spec §5: parallel
// once users*jobs > 10,000 and users > 5.
func (o *Orchestrator) resolveStrategy(numUsers, numJobs int) config.ConcurrencyStrategy {
	if o.cfg.Strategy != config.StrategyAdaptive {
		return o.cfg.Strategy
	}
	if numUsers > 5 && numUsers*numJobs > 10_000 {
		return config.StrategyParallel
	}
	return config.StrategySequential
}

// processUser runs the per-user pipeline from spec §4.7 steps 1-6.
func (o *Orchestrator) processUser(ctx context.Context, user model.User, candidateJobs []model.Job) (UserResult, int, error) {
	now := time.Now()

	// Step 0 (Open Question 4): load the profile synchronously before any
	// scoring happens for this user. A missing profile is not an error.
	profile, err := o.gateway.LoadUserProfile(ctx, user.UserID)
	if err != nil {
		return UserResult{}, 0, err
	}

	// Step 1: bulk-load the last 90 days of application history, through the
	// transient cache. Dedup applies its own, shorter window to this list.
	apps, hit := o.transient.Applications(user.UserID)
	if !hit {
		apps, err = o.gateway.LoadApplications(ctx, user.UserID, 90)
		if err != nil {
			return UserResult{}, 0, err
		}
		o.transient.Put(user.UserID, apps)
	}

	// Step 2: dedup.
	dedupResult := dedup.Filter(candidateJobs, apps, o.dedupWindow, now)

	// Step 3: bulk score.
	scores := o.engine.ScoreBatch(user, profile, dedupResult.Filtered, apps, now)

	// Step 4: top-N pool.
	pool := topNScoredJobs(dedupResult.Filtered, scores, TopN)

	// Step 5: section selection.
	slate := o.selector.Select(user.UserID, pool, user.PreferredCategories, now)

	// Step 6: supplement if short. The widened pool is the same scored,
	// deduped set beyond the top-N already handed to the Selector: a
	// "dropped location filter" pass offers the next tranche, a
	// "dropped category filter" pass offers everything remaining.
	fallbacks := 0
	if slate.Total() < model.SlateTotal {
		rest := pairScoredJobs(dedupResult.Filtered, scores)
		source := &widenedPoolSource{rest: rest, taken: len(pool)}
		supplementer := supplement.New(source, o.enricher)
		result := supplementer.Supplement(ctx, user, slate)
		fallbacks = result.SyntheticAdded
	}

	return UserResult{UserID: user.UserID, Scores: scores, Slate: slate}, fallbacks, nil
}

// widenedPoolSource implements supplement.JobSource by offering
// successively larger tranches of the already-scored candidate pool
// beyond what the Section Selector consumed: the first widening returns
// the next 200 items, the second returns everything left.
type widenedPoolSource struct {
	rest  []model.ScoredJob
	taken int
}

func (w *widenedPoolSource) WidenedCandidates(_ context.Context, _ model.User, dropLocationFilter, dropCategoryFilter bool) ([]model.ScoredJob, error) {
	if w.taken >= len(w.rest) {
		return nil, nil
	}
	end := len(w.rest)
	if dropLocationFilter && !dropCategoryFilter && w.taken+TopN < end {
		end = w.taken + TopN
	}
	tranche := w.rest[w.taken:end]
	w.taken = end
	return tranche, nil
}

// pairScoredJobs zips every deduped job with its score, mirroring
// topNScoredJobs but keeping the full set instead of the top N.
func pairScoredJobs(jobs []model.Job, scores []model.MatchScore) []model.ScoredJob {
	paired := make([]model.ScoredJob, len(jobs))
	for i, job := range jobs {
		paired[i] = model.ScoredJob{Job: job, Score: scores[i]}
	}
	sortScoredJobsDescending(paired)
	return paired
}

func sortScoredJobsDescending(items []model.ScoredJob) {
	sort.Slice(items, func(i, j int) bool { return items[i].Score.Composite > items[j].Score.Composite })
}

// topNScoredJobs pairs jobs with their scores and keeps the N highest by
// composite, matching spec §4.7 step 4.
func topNScoredJobs(jobs []model.Job, scores []model.MatchScore, n int) []model.ScoredJob {
	paired := make([]model.ScoredJob, len(jobs))
	for i, job := range jobs {
		paired[i] = model.ScoredJob{Job: job, Score: scores[i]}
	}

	// Partial selection sort is sufficient here: n is small (200) relative
	// to the pool the scoring engine just produced.
	if n > len(paired) {
		n = len(paired)
	}
	for i := 0; i < n; i++ {
		best := i
		for j := i + 1; j < len(paired); j++ {
			if paired[j].Score.Composite > paired[best].Score.Composite {
				best = j
			}
		}
		paired[i], paired[best] = paired[best], paired[i]
	}
	return paired[:n]
}
