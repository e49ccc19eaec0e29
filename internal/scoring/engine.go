// Package scoring implements the single authoritative composite-score
// computation: one engine, not per-call-site duplicates. Formulas and
// constants are grounded on
// original_source/backend/app/services/scoring_engine.py
// (PERFORMANCE_TARGET_MS_PER_USER=180, DEFAULT_CHUNK_SIZE=1000).
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/nagata-labs/shortlist-batch/internal/cache"
	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/nagata-labs/shortlist-batch/internal/model"
)

// ChunkSize is the default batch of users processed per worker-pool
// dispatch, matching the original engine's DEFAULT_CHUNK_SIZE.
const ChunkSize = 1000

// PerUserBudget is the steady-state per-user performance contract:
// ≤180ms per user over 100,000 candidate jobs.
const PerUserBudget = 180 * time.Millisecond

// Engine computes MatchScore rows against bulk-loaded rowsets only; it
// never performs a per-pair repository round trip.
type Engine struct {
	weights       config.Weights
	minDistanceKM float64
	highIncome    int
	persistent    *cache.Persistent
	bonusRules    []Rule
	penaltyRules  []Rule
}

// New builds a scoring Engine bound to one run's weights, caches, and
// bonus/penalty rule table. It fails if any configured rule's predicate
// does not compile.
func New(cfg config.ScoringConfig, persistent *cache.Persistent) (*Engine, error) {
	bonusRules, err := compileRules(cfg.BonusRules)
	if err != nil {
		return nil, fmt.Errorf("compile bonus rules: %w", err)
	}
	penaltyRules, err := compileRules(cfg.PenaltyRules)
	if err != nil {
		return nil, fmt.Errorf("compile penalty rules: %w", err)
	}
	return &Engine{
		weights:       cfg.Weights,
		minDistanceKM: cfg.MinDistanceKM,
		highIncome:    cfg.HighIncome,
		persistent:    persistent,
		bonusRules:    bonusRules,
		penaltyRules:  penaltyRules,
	}, nil
}

// ScoreBatch scores every job in jobs against one user, returning one
// MatchScore per job. A failure scoring a single pair never aborts the
// batch: the pair is zero-scored with penalties={"error":-100} and the
// caller is expected to log it.
func (e *Engine) ScoreBatch(user model.User, profile *model.UserProfile, jobs []model.Job, apps []model.Application, now time.Time) []model.MatchScore {
	appIndex := indexApplications(apps)
	scores := make([]model.MatchScore, len(jobs))
	for i, job := range jobs {
		scores[i] = e.scorePairRecovering(user, profile, job, apps, appIndex, now)
	}
	return scores
}

func (e *Engine) scorePairRecovering(user model.User, profile *model.UserProfile, job model.Job, apps []model.Application, appIndex map[string][]model.Application, now time.Time) (result model.MatchScore) {
	defer func() {
		if r := recover(); r != nil {
			result = model.MatchScore{
				UserID:    user.UserID,
				JobID:     job.JobID,
				Penalties: map[string]float64{"error": -100},
			}
		}
	}()
	return e.scorePair(user, profile, job, apps, appIndex, now)
}

func (e *Engine) scorePair(user model.User, profile *model.UserProfile, job model.Job, apps []model.Application, appIndex map[string][]model.Application, now time.Time) model.MatchScore {
	base := e.baseScore(job, now)
	seo, locationSub := e.seoScore(user, job)
	personal := e.personalScore(user, profile, job, appIndex)

	composite := base*e.weights.Base + seo*e.weights.SEO + personal*e.weights.Personal

	bonuses := e.evalBonusRules(user, profile, job, locationSub)
	penalties := e.evalPenaltyRules(user, job, appIndex, now)

	for _, v := range bonuses {
		composite += v
	}
	for _, v := range penalties {
		composite += v
	}
	composite = model.Clamp(composite, 0, 100)

	return model.MatchScore{
		UserID:    user.UserID,
		JobID:     job.JobID,
		Base:      base,
		SEO:       seo,
		Personal:  personal,
		Composite: composite,
		Components: map[string]float64{
			"base": base, "seo": seo, "personal": personal, "location_sub": locationSub,
		},
		Bonuses:   bonuses,
		Penalties: penalties,
	}
}

// baseScore computes fee + salary attractiveness + access + recency.
func (e *Engine) baseScore(job model.Job, now time.Time) float64 {
	feeScore := model.Clamp(float64(job.Fee)/5000*50, 0, 50)

	h := job.HourlyEquivalent
	var salaryScore float64
	switch {
	case h >= 1500:
		salaryScore = 30
	case h >= 1200:
		salaryScore = 20
	case h >= 1000:
		salaryScore = 10
	default:
		salaryScore = 5
	}

	access := 5.0
	if job.StationName != "" {
		access += 15
	}
	if job.Address != "" {
		access += 5
	}
	if access > 20 {
		access = 20
	}

	age := job.AgeAt(now)
	var recency float64
	switch {
	case age <= 3*24*time.Hour:
		recency = 5
	case age <= 7*24*time.Hour:
		recency = 3
	case age <= 14*24*time.Hour:
		recency = 1
	}

	return model.Clamp(feeScore+salaryScore+access+recency, 0, 100)
}

// seoScore computes location + category + condition, averaged.
// Returns the composite SEO score and the location sub-score, the latter
// feeding both the LOCATION_CONVENIENT section predicate and the
// out-of-region penalty.
func (e *Engine) seoScore(user model.User, job model.Job) (seo float64, locationSub float64) {
	switch {
	case user.PrefectureCode == job.PrefectureCode && user.CityCode == job.CityCode && job.CityCode != "":
		locationSub = 100
	case user.PrefectureCode == job.PrefectureCode:
		locationSub = 100
	case e.persistent != nil && e.persistent.IsAdjacent(user.PrefectureCode, job.PrefectureCode):
		locationSub = 60
	case job.IsRemote():
		locationSub = 80
	default:
		locationSub = 20
	}

	var categorySub float64
	if len(user.PreferredCategories) == 0 {
		categorySub = 50
	} else if user.HasPreferredCategory(job.CategoryCode) {
		categorySub = 100
	} else if e.persistent != nil && anyMajorMatch(e.persistent, user.PreferredCategories, job.CategoryCode) {
		categorySub = 60
	} else {
		categorySub = 20
	}

	conditionSub := e.conditionScore(user, job)

	seo = (locationSub + categorySub + conditionSub) / 3
	return seo, locationSub
}

func anyMajorMatch(p *cache.Persistent, preferred map[int]struct{}, candidate int) bool {
	for pref := range preferred {
		if p.SameMajorCategory(pref, candidate) {
			return true
		}
	}
	return false
}

// conditionScore rates how many declared user conditions the job satisfies:
// salary floor, work-style compatibility, feature overlap.
func (e *Engine) conditionScore(user model.User, job model.Job) float64 {
	total, satisfied := 0, 0

	if user.PreferredSalaryMin != nil {
		total++
		if job.HourlyEquivalent >= float64(*user.PreferredSalaryMin) {
			satisfied++
		}
	}

	if len(user.PreferredWorkStyles) > 0 {
		total++
		if workStyleCompatible(user.PreferredWorkStyles, job) {
			satisfied++
		}
	}

	if total == 0 {
		return 50
	}
	return model.Clamp(float64(satisfied)/float64(total)*100, 0, 100)
}

func workStyleCompatible(styles map[string]struct{}, job model.Job) bool {
	if _, ok := styles["remote"]; ok && job.IsRemote() {
		return true
	}
	if _, ok := styles["weekend"]; ok && job.Features.Has(model.FeatureWeekendOK) {
		return true
	}
	if _, ok := styles["short_time"]; ok && job.Features.Has(model.FeatureShortTime) {
		return true
	}
	return false
}

// personalScore computes weighted history + click + collaborative.
func (e *Engine) personalScore(user model.User, profile *model.UserProfile, job model.Job, appIndex map[string][]model.Application) float64 {
	history := e.historyScore(job, appIndex)
	click := e.clickScore(user, profile, job)
	collab := e.collaborativeScore(profile, job)
	return model.Clamp(0.4*history+0.3*click+0.3*collab, 0, 100)
}

func (e *Engine) historyScore(job model.Job, appIndex map[string][]model.Application) float64 {
	score := 25.0
	bestCategory, bestSalary, bestPrefecture := false, false, false

	for _, app := range appIndex[job.CompanyCode] {
		if app.CategoryCode == job.CategoryCode {
			bestCategory = true
		}
		if app.Salary != nil && job.MaxSalary != nil {
			lo, hi := float64(*app.Salary)*0.8, float64(*app.Salary)*1.2
			if float64(*job.MaxSalary) >= lo && float64(*job.MaxSalary) <= hi {
				bestSalary = true
			}
		}
		if app.Prefecture == job.PrefectureCode {
			bestPrefecture = true
		}
	}

	if bestCategory {
		score += 30
	}
	if bestSalary {
		score += 25
	}
	if bestPrefecture {
		score += 20
	}
	return model.Clamp(score, 0, 100)
}

func (e *Engine) clickScore(user model.User, profile *model.UserProfile, job model.Job) float64 {
	score := 40.0
	if user.HasPreferredCategory(job.CategoryCode) {
		score += 20
	}
	if profile != nil {
		if job.Features.Has(model.FeatureDailyPayment) {
			score += 15 * profile.PreferenceScore("daily_payment")
		}
		if job.Features.Has(model.FeatureNoExperience) {
			score += 10 * profile.PreferenceScore("no_experience")
		}
		if job.Features.Has(model.FeatureStudentWelcome) {
			score += 10 * profile.PreferenceScore("student_welcome")
		}
	}
	return model.Clamp(score, 0, 100)
}

// collaborativeK is the fixed dimensionality the job feature vector is
// padded to before comparing against UserProfile.LatentFactors.
const collaborativeK = 8

func (e *Engine) collaborativeScore(profile *model.UserProfile, job model.Job) float64 {
	if profile == nil || len(profile.LatentFactors) == 0 {
		return 45
	}

	jobVec := jobFeatureVector(job, len(profile.LatentFactors))
	cos := cosineSimilarity(profile.LatentFactors, jobVec)
	return model.Clamp((cos+1)/2*100, 0, 100)
}

// jobFeatureVector deterministically assembles {category, log(salary),
// feature_bits...} padded/truncated to dims entries.
func jobFeatureVector(job model.Job, dims int) []float64 {
	if dims < collaborativeK {
		dims = collaborativeK
	}
	vec := make([]float64, dims)
	vec[0] = float64(job.CategoryCode)
	salary := job.HourlyEquivalent
	if salary <= 0 {
		salary = 1
	}
	vec[1] = math.Log(salary)
	for bit := 0; bit < dims-2 && bit < 16; bit++ {
		if job.Features.Has(model.Feature(1 << uint(bit))) {
			vec[bit+2] = 1
		}
	}
	return vec
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// evalBonusRules runs the registered bonus rule table (config-driven, see
// Rule) against the env derived from this pair.
func (e *Engine) evalBonusRules(user model.User, profile *model.UserProfile, job model.Job, locationSub float64) map[string]float64 {
	env := ruleEnv{
		PreferredCategory:   user.HasPreferredCategory(job.CategoryCode),
		LocationSub:         locationSub,
		HourlyEquivalent:    job.HourlyEquivalent,
		HighIncomeThreshold: float64(e.highIncome),
		DailyPayment:        job.Features.Has(model.FeatureDailyPayment),
		StudentBand:         user.AgeGroup.IsStudentBand(),
		StudentWelcome:      job.Features.Has(model.FeatureStudentWelcome),
	}
	if profile != nil {
		env.DailyPaymentPreference = profile.PreferenceScore("daily_payment")
	}
	return evalRules(e.bonusRules, env)
}

// evalPenaltyRules runs the registered penalty rule table against the env
// derived from this pair.
func (e *Engine) evalPenaltyRules(user model.User, job model.Job, appIndex map[string][]model.Application, now time.Time) map[string]float64 {
	env := ruleEnv{
		RecentApplication: recentApplicationTo(appIndex, job.CompanyCode, 14, now),
		OutOfRegion:       job.PrefectureCode != user.PrefectureCode && !(e.persistent != nil && e.persistent.IsAdjacent(user.PrefectureCode, job.PrefectureCode)),
	}
	return evalRules(e.penaltyRules, env)
}

func recentApplicationTo(appIndex map[string][]model.Application, companyCode string, windowDays int, now time.Time) bool {
	cutoff := now.AddDate(0, 0, -windowDays)
	for _, app := range appIndex[companyCode] {
		if app.AppliedAt.After(cutoff) {
			return true
		}
	}
	return false
}

func indexApplications(apps []model.Application) map[string][]model.Application {
	idx := make(map[string][]model.Application, len(apps))
	for _, app := range apps {
		if !app.Valid() {
			continue
		}
		idx[app.CompanyCode] = append(idx[app.CompanyCode], app)
	}
	return idx
}
