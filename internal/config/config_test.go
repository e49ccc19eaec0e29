package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvAsRules(t *testing.T) {
	defaults := []RuleConfig{{Name: "default", When: "true", Delta: 1}}

	t.Run("unset variable falls back to the default table", func(t *testing.T) {
		rules := getEnvAsRules("SCORING_TEST_RULES_UNSET", defaults)
		assert.Equal(t, defaults, rules)
	})

	t.Run("valid JSON overrides the default table", func(t *testing.T) {
		t.Setenv("SCORING_TEST_RULES", `[{"name":"custom","when":"hourly_equivalent > 2000","delta":5}]`)
		rules := getEnvAsRules("SCORING_TEST_RULES", defaults)
		assert.Equal(t, []RuleConfig{{Name: "custom", When: "hourly_equivalent > 2000", Delta: 5}}, rules)
	})

	t.Run("malformed JSON falls back to the default table", func(t *testing.T) {
		t.Setenv("SCORING_TEST_RULES_BAD", `not json`)
		rules := getEnvAsRules("SCORING_TEST_RULES_BAD", defaults)
		assert.Equal(t, defaults, rules)
	})
}

func TestDefaultRules(t *testing.T) {
	t.Run("default bonus and penalty rules are non-empty and named", func(t *testing.T) {
		for _, r := range DefaultBonusRules() {
			assert.NotEmpty(t, r.Name)
			assert.NotEmpty(t, r.When)
		}
		for _, r := range DefaultPenaltyRules() {
			assert.NotEmpty(t, r.Name)
			assert.NotEmpty(t, r.When)
			assert.Negative(t, r.Delta)
		}
	})
}
