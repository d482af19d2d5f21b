package judge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultRules(), DefaultEmergencyKeywords())
	require.NoError(t, err)
	return e
}

func elementaryModerate() Profile {
	return Profile{AgeGroup: AgeElementary, Strictness: StrictnessModerate}
}

func TestEngineEducationalAllows(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategoryEducational, Confidence: 0.92}

	res := e.Judge(v, "how do volcanoes erupt", elementaryModerate(), time.Now())
	assert.Equal(t, ActionAllow, res.Action)
	assert.Equal(t, "EDU-001", res.RuleID)
	assert.False(t, res.Emergency)
}

func TestEngineDangerousBlocksAtThreshold(t *testing.T) {
	e := defaultEngine(t)

	// At or above 0.5 the emergency override fires before any rule.
	for _, conf := range []float64{0.5, 0.7, 1.0} {
		v := Verdict{Category: CategoryDangerous, Confidence: conf}
		res := e.Judge(v, "", elementaryModerate(), time.Now())
		assert.Equal(t, ActionBlock, res.Action, "confidence %.2f", conf)
		assert.True(t, res.Emergency, "confidence %.2f", conf)
		assert.Equal(t, "EMERGENCY", res.RuleID, "confidence %.2f", conf)
	}
}

func TestEngineLowConfidenceDangerousStillBlocks(t *testing.T) {
	e := defaultEngine(t)

	// Below the override threshold the DANG-001 rule still matches (no
	// confidence floor): dangerous content never reaches monitor.
	v := Verdict{Category: CategoryDangerous, Confidence: 0.3}
	res := e.Judge(v, "", elementaryModerate(), time.Now())
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, "DANG-001", res.RuleID)
}

func TestEngineEmergencyKeywordInText(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategorySafe, Confidence: 0.95}

	res := e.Judge(v, "where to buy a weapon", elementaryModerate(), time.Now())
	assert.Equal(t, ActionBlock, res.Action)
	assert.True(t, res.Emergency)
	assert.Contains(t, res.Reason, "weapon")
}

func TestEngineEmergencyKeywordFromVerdict(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategoryConcerning, Confidence: 0.6, Keywords: []string{"Suicide"}}

	res := e.Judge(v, "innocuous text", elementaryModerate(), time.Now())
	assert.True(t, res.Emergency)
	assert.Equal(t, ActionBlock, res.Action)
}

func TestEngineProfileSelectsEntertainmentRule(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategoryEntertainment, Confidence: 0.85}

	res := e.Judge(v, "minecraft", elementaryModerate(), time.Now())
	assert.Equal(t, ActionMonitor, res.Action)
	assert.Equal(t, "ENT-001", res.RuleID)

	older := Profile{AgeGroup: AgeHighSchool, Strictness: StrictnessModerate}
	res = e.Judge(v, "minecraft", older, time.Now())
	assert.Equal(t, ActionAllow, res.Action)
	assert.Equal(t, "ENT-002", res.RuleID)
}

func TestEngineSocialRestrictedForElementary(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategorySocial, Confidence: 0.8}

	res := e.Judge(v, "chat with friends", elementaryModerate(), time.Now())
	assert.Equal(t, ActionRestrict, res.Action)
	assert.Equal(t, "SOC-001", res.RuleID)
}

func TestEngineNoMatchDefaultsToMonitor(t *testing.T) {
	e := defaultEngine(t)

	// Entertainment at high confidence under a strict high-school
	// profile matches no entertainment rule and no fallback bound.
	v := Verdict{Category: CategoryEntertainment, Confidence: 0.9}
	strict := Profile{AgeGroup: AgeHighSchool, Strictness: StrictnessStrict}
	res := e.Judge(v, "", strict, time.Now())
	assert.Equal(t, ActionMonitor, res.Action)
	assert.Equal(t, "DEFAULT", res.RuleID)
}

func TestEngineLowConfidenceFallbackRule(t *testing.T) {
	e := defaultEngine(t)
	v := Verdict{Category: CategorySafe, Confidence: 0.4}

	res := e.Judge(v, "", elementaryModerate(), time.Now())
	assert.Equal(t, ActionMonitor, res.Action)
	assert.Equal(t, "FALL-001", res.RuleID)
}

func TestEnginePriorityTieBreaksRestrictive(t *testing.T) {
	rules := []Rule{
		{ID: "A", Name: "allow", Action: ActionAllow, Priority: 5},
		{ID: "B", Name: "block", Action: ActionBlock, Priority: 5},
	}
	e, err := NewEngine(rules, nil)
	require.NoError(t, err)

	res := e.Judge(Verdict{Category: CategorySafe, Confidence: 0.9}, "", Profile{}, time.Now())
	assert.Equal(t, "B", res.RuleID)
}

func TestEngineDisabledRuleSkipped(t *testing.T) {
	rules := []Rule{
		{ID: "A", Name: "blocked off", Action: ActionBlock, Priority: 10, Disabled: true},
		{ID: "B", Name: "allow", Action: ActionAllow, Priority: 1},
	}
	e, err := NewEngine(rules, nil)
	require.NoError(t, err)

	res := e.Judge(Verdict{Category: CategorySafe, Confidence: 0.9}, "", Profile{}, time.Now())
	assert.Equal(t, "B", res.RuleID)
}

func TestEngineReloadRejectsInvalidTable(t *testing.T) {
	e := defaultEngine(t)

	err := e.Reload([]Rule{{ID: "X", Action: "shrug"}})
	require.Error(t, err)

	// Previous table still active.
	v := Verdict{Category: CategoryEducational, Confidence: 0.9}
	res := e.Judge(v, "", elementaryModerate(), time.Now())
	assert.Equal(t, "EDU-001", res.RuleID)
}

func TestValidateRules(t *testing.T) {
	require.Error(t, ValidateRules(nil))

	dup := []Rule{
		{ID: "R1", Action: ActionAllow},
		{ID: "R1", Action: ActionBlock},
	}
	err := ValidateRules(dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")

	badConf := []Rule{{ID: "R1", Action: ActionAllow, MinConfidence: confPtr(1.5)}}
	require.Error(t, ValidateRules(badConf))

	badCat := []Rule{{ID: "R1", Action: ActionAllow, Category: "nonsense"}}
	require.Error(t, ValidateRules(badCat))
}
