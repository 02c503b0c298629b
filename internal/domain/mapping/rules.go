package mapping

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Rule maps a keyword pattern to an ICD-11 code. Patterns match as
// case-insensitive substrings of the normalized query term.
type Rule struct {
	Pattern    string  `mapstructure:"pattern"`
	ICDCode    string  `mapstructure:"icd_code"`
	ICDTitle   string  `mapstructure:"icd_title"`
	Confidence float64 `mapstructure:"confidence"`
}

// RuleSet is an ordered list of keyword rules. When two rules hit the
// same code, the higher confidence wins.
type RuleSet struct {
	rules []Rule
}

// LoadRules reads a YAML rule file. A missing path yields an empty set,
// not an error, so deployments without a rule file still serve.
func LoadRules(path string) (*RuleSet, error) {
	if path == "" {
		return &RuleSet{}, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var raw struct {
		Rules []Rule `mapstructure:"rules"`
	}
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}

	rules := make([]Rule, 0, len(raw.Rules))
	for i, r := range raw.Rules {
		r.Pattern = Normalize(r.Pattern)
		if r.Pattern == "" || r.ICDCode == "" {
			return nil, fmt.Errorf("rule %d in %s: pattern and icd_code are required", i, path)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("rule %d in %s: confidence must be in (0,1]", i, path)
		}
		rules = append(rules, r)
	}
	return &RuleSet{rules: rules}, nil
}

// NewRuleSet builds a set from in-memory rules. Used by tests and seeds.
func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{rules: rules}
}

// Len returns the number of rules.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// Match returns rule-stage candidates for a normalized term, deduplicated
// by code keeping the highest confidence, ordered by confidence descending
// with code ascending as the tiebreak.
func (rs *RuleSet) Match(normalizedTerm string) []Candidate {
	if normalizedTerm == "" {
		return nil
	}

	index := make(map[string]int)
	var out []Candidate
	for _, r := range rs.rules {
		if !strings.Contains(normalizedTerm, r.Pattern) {
			continue
		}
		if i, ok := index[r.ICDCode]; ok {
			if r.Confidence > out[i].Confidence {
				out[i].Confidence = r.Confidence
				out[i].ICDTitle = r.ICDTitle
			}
			continue
		}
		index[r.ICDCode] = len(out)
		out = append(out, Candidate{
			ICDCode:    r.ICDCode,
			ICDTitle:   r.ICDTitle,
			RuleMatch:  true,
			Confidence: r.Confidence,
			Stage:      StageRule,
		})
	}
	sortCandidates(out)
	return out
}
