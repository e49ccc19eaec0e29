package scoring

import (
	"testing"

	"github.com/nagata-labs/shortlist-batch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileRules(t *testing.T) {
	t.Run("empty config compiles to an empty table", func(t *testing.T) {
		rules, err := compileRules(nil)
		require.NoError(t, err)
		assert.Empty(t, rules)
	})

	t.Run("valid predicates compile", func(t *testing.T) {
		rules, err := compileRules([]config.RuleConfig{
			{Name: "high_income", When: "hourly_equivalent >= high_income_threshold", Delta: 10},
		})
		require.NoError(t, err)
		require.Len(t, rules, 1)
		assert.Equal(t, "high_income", rules[0].Name)
		assert.Equal(t, 10.0, rules[0].Delta)
	})

	t.Run("an invalid predicate fails to compile", func(t *testing.T) {
		_, err := compileRules([]config.RuleConfig{{Name: "broken", When: "not valid expr (", Delta: 1}})
		assert.Error(t, err)
	})
}

func TestEvalRules(t *testing.T) {
	rules, err := compileRules([]config.RuleConfig{
		{Name: "perfect_match", When: "preferred_category && location_sub == 100", Delta: 15},
		{Name: "high_income", When: "hourly_equivalent >= high_income_threshold", Delta: 10},
	})
	require.NoError(t, err)

	t.Run("only admitted rules contribute", func(t *testing.T) {
		env := ruleEnv{PreferredCategory: true, LocationSub: 100, HourlyEquivalent: 900, HighIncomeThreshold: 2000}
		out := evalRules(rules, env)
		assert.Equal(t, map[string]float64{"perfect_match": 15}, out)
	})

	t.Run("no admitted rules yields an empty map", func(t *testing.T) {
		env := ruleEnv{PreferredCategory: false, LocationSub: 20, HourlyEquivalent: 900, HighIncomeThreshold: 2000}
		out := evalRules(rules, env)
		assert.Empty(t, out)
	})

	t.Run("every admitted rule contributes independently", func(t *testing.T) {
		env := ruleEnv{PreferredCategory: true, LocationSub: 100, HourlyEquivalent: 3000, HighIncomeThreshold: 2000}
		out := evalRules(rules, env)
		assert.Equal(t, map[string]float64{"perfect_match": 15, "high_income": 10}, out)
	})
}
