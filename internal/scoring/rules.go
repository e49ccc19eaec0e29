package scoring

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nagata-labs/shortlist-batch/internal/config"
)

// ruleEnv is the variable set exposed to a bonus or penalty rule's predicate
// expression (config.RuleConfig.When), rebuilt fresh for every scored pair.
type ruleEnv struct {
	PreferredCategory      bool    `expr:"preferred_category"`
	LocationSub            float64 `expr:"location_sub"`
	HourlyEquivalent       float64 `expr:"hourly_equivalent"`
	HighIncomeThreshold    float64 `expr:"high_income_threshold"`
	DailyPayment           bool    `expr:"daily_payment"`
	DailyPaymentPreference float64 `expr:"daily_payment_preference"`
	StudentBand            bool    `expr:"student_band"`
	StudentWelcome         bool    `expr:"student_welcome"`
	RecentApplication      bool    `expr:"recent_application"`
	OutOfRegion            bool    `expr:"out_of_region"`
}

// Rule is one compiled bonus or penalty entry: a boolean predicate over
// ruleEnv and the delta it contributes to the composite score once the
// predicate holds. The registered list replaces a fixed set of named
// if-statements with a table an operator can extend through config alone.
type Rule struct {
	Name    string
	Delta   float64
	program *vm.Program
}

func compileRules(configs []config.RuleConfig) ([]Rule, error) {
	rules := make([]Rule, 0, len(configs))
	for _, rc := range configs {
		program, err := expr.Compile(rc.When, expr.Env(ruleEnv{}), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rc.Name, err)
		}
		rules = append(rules, Rule{Name: rc.Name, Delta: rc.Delta, program: program})
	}
	return rules, nil
}

// evalRules runs every rule's predicate against env, collecting a
// name-to-delta map of the ones that admit. A rule whose predicate errors
// at runtime is skipped rather than aborting its neighbors.
func evalRules(rules []Rule, env ruleEnv) map[string]float64 {
	out := make(map[string]float64, len(rules))
	for _, r := range rules {
		result, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		if admit, ok := result.(bool); ok && admit {
			out[r.Name] = r.Delta
		}
	}
	return out
}
