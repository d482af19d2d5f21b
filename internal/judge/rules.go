package judge

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Rule is one entry in the decision table. Rules are static
// configuration: loaded at startup, replaced only through an explicit
// Engine.Reload.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Category restricts the rule to one category; empty matches any.
	Category Category `json:"category,omitempty"`

	// MinConfidence / MaxConfidence bound verdict confidence; nil means
	// unbounded on that side.
	MinConfidence *float64 `json:"min_confidence,omitempty"`
	MaxConfidence *float64 `json:"max_confidence,omitempty"`

	Action   Action `json:"action"`
	Priority int    `json:"priority"`

	// AgeGroups / Strictness limit applicability; empty means all.
	AgeGroups  []AgeGroup   `json:"age_groups,omitempty"`
	Strictness []Strictness `json:"strictness,omitempty"`

	// Emergency marks the resulting judgment as an emergency.
	Emergency bool `json:"emergency,omitempty"`

	Disabled bool `json:"disabled,omitempty"`
}

func confPtr(f float64) *float64 { return &f }

// DefaultRules is the built-in decision table. Custom rules from the
// rules file are appended to it, never replace it.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "EDU-001", Name: "Educational Content",
			Description: "Allow educational content",
			Category:    CategoryEducational, MinConfidence: confPtr(0.7),
			Action: ActionAllow, Priority: 10,
		},
		{
			ID: "SAFE-001", Name: "Safe Content",
			Description: "Allow safe content",
			Category:    CategorySafe, MinConfidence: confPtr(0.8),
			Action: ActionAllow, Priority: 8,
		},
		{
			ID: "ENT-001", Name: "Entertainment - Elementary",
			Description: "Monitor entertainment for elementary students",
			Category:    CategoryEntertainment, MinConfidence: confPtr(0.6),
			Action: ActionMonitor, Priority: 5,
			AgeGroups:  []AgeGroup{AgeElementary},
			Strictness: []Strictness{StrictnessModerate, StrictnessStrict},
		},
		{
			ID: "ENT-002", Name: "Entertainment - High School",
			Description: "Allow entertainment for high school students",
			Category:    CategoryEntertainment, MinConfidence: confPtr(0.6),
			Action: ActionAllow, Priority: 5,
			AgeGroups:  []AgeGroup{AgeHighSchool},
			Strictness: []Strictness{StrictnessPermissive, StrictnessModerate},
		},
		{
			ID: "SOC-001", Name: "Social Content - Elementary",
			Description: "Restrict social content for elementary students",
			Category:    CategorySocial,
			Action:      ActionRestrict, Priority: 7,
			AgeGroups:  []AgeGroup{AgeElementary},
			Strictness: []Strictness{StrictnessModerate, StrictnessStrict},
		},
		{
			ID: "SOC-002", Name: "Social Content - Older Students",
			Description: "Monitor social content for older students",
			Category:    CategorySocial,
			Action:      ActionMonitor, Priority: 6,
			AgeGroups:  []AgeGroup{AgeMiddleSchool, AgeHighSchool},
			Strictness: []Strictness{StrictnessPermissive, StrictnessModerate},
		},
		{
			ID: "CONC-001", Name: "Concerning Content",
			Description: "Block concerning content",
			Category:    CategoryConcerning,
			Action:      ActionBlock, Priority: 15,
		},
		{
			ID: "INAP-001", Name: "Inappropriate Content",
			Description: "Block inappropriate content",
			Category:    CategoryInappropriate,
			Action:      ActionBlock, Priority: 20,
		},
		{
			ID: "DANG-001", Name: "Dangerous Content",
			Description: "Block dangerous content immediately",
			Category:    CategoryDangerous,
			Action:      ActionBlock, Priority: 25, Emergency: true,
		},
		{
			ID: "FALL-001", Name: "Low Confidence Fallback",
			Description: "Monitor content with low confidence",
			MaxConfidence: confPtr(0.5),
			Action:        ActionMonitor, Priority: 1,
		},
		{
			ID: "UNK-001", Name: "Unknown Content",
			Description: "Monitor unknown content",
			Category:    CategoryUnknown,
			Action:      ActionMonitor, Priority: 2,
		},
	}
}

// DefaultEmergencyKeywords is the built-in emergency keyword list. A
// keyword hit forces block regardless of the rule table.
func DefaultEmergencyKeywords() []string {
	return []string{
		"suicide", "self-harm", "violence", "abuse", "drugs", "weapons",
		"bomb", "explosive", "kill", "hurt", "attack",
		"weapon", "gun", "knife", "poison",
	}
}

//go:embed rules.schema.json
var rulesSchema []byte

// rulesFile is the on-disk shape of a custom rules file.
type rulesFile struct {
	Rules []Rule `json:"rules"`
}

// LoadRulesFile reads custom rules from a JSON file, validating the
// document against the embedded schema before decoding. The returned
// rules still pass through ValidateRules when installed in an Engine.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.schema.json", bytes.NewReader(rulesSchema)); err != nil {
		return nil, fmt.Errorf("add rules schema: %w", err)
	}
	schema, err := compiler.Compile("rules.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile rules schema: %w", err)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	if err := schema.Validate(instance); err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}

	var rf rulesFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("decode rules file: %w", err)
	}
	return rf.Rules, nil
}

// ValidateRules checks a rule table for misconfiguration. An invalid
// table is fatal at startup: refusing to run beats silently allowing.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("rule table is empty")
	}
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
		if _, err := ParseAction(string(r.Action)); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		if r.Category != "" && ParseCategory(string(r.Category)) != r.Category {
			return fmt.Errorf("rule %s: unknown category %q", r.ID, r.Category)
		}
		for _, ag := range r.AgeGroups {
			if _, err := ParseAgeGroup(string(ag)); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		for _, sl := range r.Strictness {
			if _, err := ParseStrictness(string(sl)); err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		if r.MinConfidence != nil && (*r.MinConfidence < 0 || *r.MinConfidence > 1) {
			return fmt.Errorf("rule %s: min_confidence out of range", r.ID)
		}
		if r.MaxConfidence != nil && (*r.MaxConfidence < 0 || *r.MaxConfidence > 1) {
			return fmt.Errorf("rule %s: max_confidence out of range", r.ID)
		}
	}
	return nil
}
