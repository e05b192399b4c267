// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refusal implements the pre-generation risk gate. Every incoming
// question is matched against language-specific regex categories loaded from
// tables embedded in the binary; the decision logic is deterministic and
// fully auditable (every refusal traces to one or more matched patterns).
package refusal

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/imxlabs/nutria/services/refusal/enforcement"
	"gopkg.in/yaml.v3"
)

// DefaultLanguage is the fallback when a query's language has no pattern or
// response table of its own.
const DefaultLanguage = "fr"

// ConstraintSuffix is appended to the prompt for allow_with_constraints
// decisions. Enforcement is prompt-level only; the generated answer is not
// validated against these constraints afterwards.
const ConstraintSuffix = "\n\nADDITIONAL CONSTRAINTS:\n" +
	"- Do not recommend any specific product/supplement/brand.\n" +
	"- Do not provide dosages or numeric targets.\n" +
	"- Keep it general and educational.\n"

// Engine is the main entry point for risk assessment. It holds the compiled
// pattern tables and canned responses for every configured language.
type Engine struct {
	categories map[string][]compiledCategory
	responses  ResponseFile
}

// NewEngine initializes the refusal engine from the tables embedded in the
// binary via the enforcement package.
//
// It performs the following operations:
// 1. Unmarshals the embedded pattern and response YAML.
// 2. Compiles all regex patterns (case-insensitive).
//
// Returns an error if either table is malformed or contains an invalid
// regex. Callers must treat that as fatal: running without the gate would
// silently allow unsafe queries through.
func NewEngine() (*Engine, error) {
	var patterns PatternFile
	if err := yaml.Unmarshal(enforcement.RefusalPatterns, &patterns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded refusal patterns: %w", err)
	}

	var responses ResponseFile
	if err := yaml.Unmarshal(enforcement.RefusalResponses, &responses); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded refusal responses: %w", err)
	}

	compiled, err := compilePatterns(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to compile a refusal pattern: %w", err)
	}

	if _, ok := compiled[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("refusal pattern table is missing the default language %q", DefaultLanguage)
	}

	return &Engine{categories: compiled, responses: responses}, nil
}

// Assess classifies a raw query into allow / allow_with_constraints / refuse.
//
// The method is a pure function of the query text and language: no network
// calls, no shared state. Every category is evaluated (a query may match
// several); a fixed priority order over category names then picks exactly
// one decision:
//
//  1. medication                          -> refuse
//  2. minor + (personalized or meal plan) -> refuse
//  3. possible_emergency                  -> refuse
//  4. clinical_condition                  -> refuse
//  5. meal_plan                           -> refuse
//  6. personalized_request                -> refuse
//  7. supplement                          -> allow_with_constraints
//  8. numeric_targets                     -> allow_with_constraints
//  9. no match                            -> allow
//
// Refuse decisions carry a canned, localized response; no model call is
// ever made for them. The returned MatchedCategories is never nil, so an
// audit record of "nothing matched" is an empty list rather than absence.
func (e *Engine) Assess(question, language string) Assessment {
	text := strings.TrimSpace(question)

	categories, ok := e.categories[language]
	if !ok {
		categories = e.categories[DefaultLanguage]
	}

	matched := make(map[string][]string)
	for _, cat := range categories {
		for i, re := range cat.patterns {
			if re.MatchString(text) {
				matched[cat.name] = append(matched[cat.name], cat.raw[i])
			}
		}
	}

	matchedNames := make([]string, 0, len(matched))
	for name := range matched {
		matchedNames = append(matchedNames, name)
	}
	sort.Strings(matchedNames)

	if len(matched) > 0 {
		slog.Info("refusal engine matched risk categories", "language", language, "categories", matchedNames)
	} else {
		slog.Debug("refusal engine found no risk patterns", "language", language)
	}

	if hits, ok := matched[CategoryMedication]; ok {
		return e.refusal("medication_refusal", language, matchedNames, hits,
			"Medication / clinical compatibility question")
	}

	if minorHits, ok := matched[CategoryMinor]; ok {
		if len(matched[CategoryPersonalized]) > 0 || len(matched[CategoryMealPlan]) > 0 {
			hits := append(append(append([]string{}, minorHits...),
				matched[CategoryPersonalized]...), matched[CategoryMealPlan]...)
			return e.refusal("minor_refusal", language, matchedNames, hits,
				"Minor + weight/plan/personalized request")
		}
	}

	if hits, ok := matched[CategoryEmergency]; ok {
		return e.refusal("emergency_refusal", language, matchedNames, hits,
			"Possible emergency / urgent situation")
	}

	if hits, ok := matched[CategoryClinical]; ok {
		return e.refusal("general_refusal", language, matchedNames, hits,
			"Clinical condition mentioned")
	}

	if hits, ok := matched[CategoryMealPlan]; ok {
		return e.refusal("general_refusal", language, matchedNames, hits,
			"Meal plan request")
	}

	if hits, ok := matched[CategoryPersonalized]; ok {
		return e.refusal("general_refusal", language, matchedNames, hits,
			"Personalized recommendation request")
	}

	if hits, ok := matched[CategorySupplement]; ok {
		return Assessment{
			Decision:          AllowWithConstraints,
			Reasons:           []string{"Supplement mentioned (allow general info only)"},
			MatchedPatterns:   hits,
			MatchedCategories: matchedNames,
		}
	}

	if hits, ok := matched[CategoryNumericTarget]; ok {
		return Assessment{
			Decision:          AllowWithConstraints,
			Reasons:           []string{"Numeric targets mentioned (avoid numbers in reply)"},
			MatchedPatterns:   hits,
			MatchedCategories: matchedNames,
		}
	}

	return Assessment{
		Decision:          Allow,
		Reasons:           []string{},
		MatchedPatterns:   []string{},
		MatchedCategories: matchedNames,
	}
}

// refusal builds a refuse Assessment with the canned localized response.
func (e *Engine) refusal(responseType, language string, categories, hits []string, reason string) Assessment {
	return Assessment{
		Decision:          Refuse,
		Reasons:           []string{reason},
		MatchedPatterns:   hits,
		Response:          e.response(responseType, language),
		MatchedCategories: categories,
	}
}

// response looks up a canned response, falling back to the default language
// and then to that language's general_refusal.
func (e *Engine) response(responseType, language string) string {
	langResponses, ok := e.responses[language]
	if !ok {
		langResponses = e.responses[DefaultLanguage]
	}
	if text, ok := langResponses[responseType]; ok && text != "" {
		return text
	}
	return langResponses["general_refusal"]
}
