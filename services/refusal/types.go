// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package refusal

import (
	"fmt"
	"regexp"
)

// Decision is the outcome of a risk assessment.
type Decision string

const (
	Allow                Decision = "allow"
	Refuse               Decision = "refuse"
	AllowWithConstraints Decision = "allow_with_constraints"
)

// Category names recognized by the decision logic. The pattern file may list
// them in any order; the priority order is fixed in Engine.Assess.
const (
	CategoryMedication    = "medication"
	CategoryMinor         = "minor"
	CategoryEmergency     = "possible_emergency"
	CategoryClinical      = "clinical_condition"
	CategoryMealPlan      = "meal_plan"
	CategoryPersonalized  = "personalized_request"
	CategorySupplement    = "supplement"
	CategoryNumericTarget = "numeric_targets"
)

// PatternFile is the YAML shape of the embedded refusal pattern table.
// Top-level keys are language codes; each language maps category names to
// lists of regular expressions.
type PatternFile map[string]map[string][]string

// ResponseFile is the YAML shape of the embedded canned response table.
// Top-level keys are language codes; each language maps response types
// (medication_refusal, minor_refusal, emergency_refusal, general_refusal)
// to localized response text.
type ResponseFile map[string]map[string]string

// compiledCategory holds the compiled patterns for one category in one language.
type compiledCategory struct {
	name     string
	patterns []*regexp.Regexp
	raw      []string
}

// compilePatterns compiles every regex in the table, case-insensitively.
// A single invalid regex fails the whole table; the gate must fail closed
// at startup rather than silently allow unsafe queries (spec: fatal for
// the affected language).
func compilePatterns(file PatternFile) (map[string][]compiledCategory, error) {
	out := make(map[string][]compiledCategory, len(file))
	for lang, categories := range file {
		compiled := make([]compiledCategory, 0, len(categories))
		for name, raws := range categories {
			cc := compiledCategory{name: name, raw: raws}
			for _, raw := range raws {
				re, err := regexp.Compile("(?i)" + raw)
				if err != nil {
					return nil, fmt.Errorf("failed to compile pattern %q for %s/%s: %w", raw, lang, name, err)
				}
				cc.patterns = append(cc.patterns, re)
			}
			compiled = append(compiled, cc)
		}
		out[lang] = compiled
	}
	return out, nil
}

// Assessment is the result of running the refusal engine over one query.
// It is produced fresh per query and never persisted beyond the request.
type Assessment struct {
	Decision        Decision `json:"decision"`
	Reasons         []string `json:"reasons"`
	MatchedPatterns []string `json:"matched_patterns"`
	// Response carries the canned, language-localized answer for refusals.
	// Empty unless Decision is Refuse.
	Response string `json:"response,omitempty"`
	// MatchedCategories lists every category that matched, not just the one
	// that decided the outcome. Always non-nil for audit consistency.
	MatchedCategories []string `json:"matched_categories"`
}
