// Package judge analyzes captured input context and maps analysis
// verdicts to parental actions through a configurable rule table.
package judge

import "fmt"

// Category is the closed set of content categories an analysis verdict
// can carry. Unknown strings from a collaborator map to CategoryUnknown
// at the boundary; inside the engine the set is exhaustive.
type Category string

const (
	CategorySafe          Category = "safe"
	CategoryEducational   Category = "educational"
	CategoryEntertainment Category = "entertainment"
	CategorySocial        Category = "social"
	CategoryConcerning    Category = "concerning"
	CategoryInappropriate Category = "inappropriate"
	CategoryDangerous     Category = "dangerous"
	CategoryUnknown       Category = "unknown"
)

// Categories lists every valid category.
var Categories = []Category{
	CategorySafe, CategoryEducational, CategoryEntertainment,
	CategorySocial, CategoryConcerning, CategoryInappropriate,
	CategoryDangerous, CategoryUnknown,
}

// ParseCategory maps a string to a Category, falling back to
// CategoryUnknown for anything outside the closed set.
func ParseCategory(s string) Category {
	for _, c := range Categories {
		if string(c) == s {
			return c
		}
	}
	return CategoryUnknown
}

// Action is the closed set of parental actions, totally ordered by
// restrictiveness: allow < monitor < restrict < block.
type Action string

const (
	ActionAllow    Action = "allow"
	ActionMonitor  Action = "monitor"
	ActionRestrict Action = "restrict"
	ActionBlock    Action = "block"
)

var actionRank = map[Action]int{
	ActionAllow:    0,
	ActionMonitor:  1,
	ActionRestrict: 2,
	ActionBlock:    3,
}

// ParseAction validates an action string.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if _, ok := actionRank[a]; !ok {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// MoreRestrictive reports whether a is strictly more restrictive than b.
func (a Action) MoreRestrictive(b Action) bool {
	return actionRank[a] > actionRank[b]
}

// Locks reports whether the action requires the lock coordinator to
// engage (restrict and block both lock the machine pending approval).
func (a Action) Locks() bool {
	return a == ActionRestrict || a == ActionBlock
}

// AgeGroup parameterizes rule applicability by the child's age band.
type AgeGroup string

const (
	AgeElementary   AgeGroup = "elementary"
	AgeMiddleSchool AgeGroup = "middle_school"
	AgeHighSchool   AgeGroup = "high_school"
)

// ParseAgeGroup validates an age group string.
func ParseAgeGroup(s string) (AgeGroup, error) {
	switch AgeGroup(s) {
	case AgeElementary, AgeMiddleSchool, AgeHighSchool:
		return AgeGroup(s), nil
	}
	return "", fmt.Errorf("unknown age group %q", s)
}

// Strictness parameterizes rule applicability by household policy.
type Strictness string

const (
	StrictnessPermissive Strictness = "permissive"
	StrictnessModerate   Strictness = "moderate"
	StrictnessStrict     Strictness = "strict"
)

// ParseStrictness validates a strictness string.
func ParseStrictness(s string) (Strictness, error) {
	switch Strictness(s) {
	case StrictnessPermissive, StrictnessModerate, StrictnessStrict:
		return Strictness(s), nil
	}
	return "", fmt.Errorf("unknown strictness %q", s)
}

// Profile is the active (age group, strictness) pair rules are
// evaluated against.
type Profile struct {
	AgeGroup   AgeGroup
	Strictness Strictness
}
