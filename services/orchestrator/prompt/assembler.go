// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt assembles the full generation prompt from the embedded
// language templates: persona, style guide, absolute rules, behavioral
// constraints, retrieved context, conversation history, and the question.
package prompt

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/prompt/templates"
)

// DefaultLanguage is the fallback when a query's language has no template.
const DefaultLanguage = "fr"

// historyWindow is how many trailing turns feed the prompt, excluding the
// in-flight user turn.
const historyWindow = 6

// templateFile is the YAML shape of the embedded prompt table.
type templateFile struct {
	ModelSupplier string                       `yaml:"model_supplier"`
	ModelName     string                       `yaml:"model_name"`
	Languages     map[string]languageTemplates `yaml:",inline"`
}

type languageTemplates struct {
	SystemRole         string             `yaml:"system_role"`
	ImportantNotice    string             `yaml:"important_notice"`
	CommunicationStyle communicationStyle `yaml:"communication_style"`
	AbsoluteRules      titledList         `yaml:"absolute_rules"`
	Constraints        constraintList     `yaml:"behavioral_constraints"`
	Template           string             `yaml:"template"`
}

type communicationStyle struct {
	Title        string     `yaml:"title"`
	ToneAndVoice titledList `yaml:"tone_and_voice"`
	Recurring    struct {
		Title    string   `yaml:"title"`
		Messages []string `yaml:"messages"`
	} `yaml:"recurring_messages"`
}

type titledList struct {
	Title           string   `yaml:"title"`
	Characteristics []string `yaml:"characteristics"`
	Rules           []string `yaml:"rules"`
}

type constraintList struct {
	Title       string   `yaml:"title"`
	Constraints []string `yaml:"constraints"`
}

// Assembler renders prompts from the embedded language templates.
type Assembler struct {
	languages map[string]languageTemplates
	model     datatypes.ModelConfig
}

// NewAssembler parses the embedded template table. MODEL_SUPPLIER and
// MODEL_NAME environment variables override the table's model selection.
// Returns an error when the table is malformed or lacks the default
// language; callers must treat that as fatal.
func NewAssembler() (*Assembler, error) {
	var file templateFile
	if err := yaml.Unmarshal(templates.PromptTemplates, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded prompt templates: %w", err)
	}
	if _, ok := file.Languages[DefaultLanguage]; !ok {
		return nil, fmt.Errorf("prompt template table is missing the default language %q", DefaultLanguage)
	}

	model := datatypes.ModelConfig{Supplier: file.ModelSupplier, Name: file.ModelName}
	if model.Supplier == "" {
		model.Supplier = "openai"
	}
	if model.Name == "" {
		model.Name = "gpt-4o-mini"
	}
	if supplier := os.Getenv("MODEL_SUPPLIER"); supplier != "" {
		slog.Info("Overriding model supplier from environment", "supplier", supplier)
		model.Supplier = supplier
	}
	if name := os.Getenv("MODEL_NAME"); name != "" {
		slog.Info("Overriding model name from environment", "name", name)
		model.Name = name
	}

	return &Assembler{languages: file.Languages, model: model}, nil
}

// ModelConfig returns the backend selection resolved at startup.
func (a *Assembler) ModelConfig() datatypes.ModelConfig {
	return a.model
}

// Build renders the prompt for one query.
//
// The language falls back to the default when it has no template of its
// own. historyText comes from FormatHistory; constraintSuffix is appended
// verbatim when the risk gate allowed the query with constraints (empty
// otherwise).
func (a *Assembler) Build(language, context, question, historyText, constraintSuffix string) (string, error) {
	lang, ok := a.languages[language]
	if !ok {
		lang = a.languages[DefaultLanguage]
	}
	if lang.Template == "" {
		return "", fmt.Errorf("no prompt template available for language %q", language)
	}

	var tone strings.Builder
	fmt.Fprintf(&tone, "## %s\n", lang.CommunicationStyle.ToneAndVoice.Title)
	for _, c := range lang.CommunicationStyle.ToneAndVoice.Characteristics {
		fmt.Fprintf(&tone, "- %s\n", c)
	}
	fmt.Fprintf(&tone, "\n## %s\n", lang.CommunicationStyle.Recurring.Title)
	for _, m := range lang.CommunicationStyle.Recurring.Messages {
		fmt.Fprintf(&tone, "- « %s »\n", m)
	}

	var rules strings.Builder
	for _, r := range lang.AbsoluteRules.Rules {
		fmt.Fprintf(&rules, "- %s\n", r)
	}

	var constraints strings.Builder
	for _, c := range lang.Constraints.Constraints {
		fmt.Fprintf(&constraints, "- %s\n", c)
	}

	replacer := strings.NewReplacer(
		"{system_role}", lang.SystemRole,
		"{important_notice}", lang.ImportantNotice,
		"{communication_style_title}", lang.CommunicationStyle.Title,
		"{communication_style_content}", tone.String(),
		"{absolute_rules_title}", lang.AbsoluteRules.Title,
		"{absolute_rules_content}", rules.String(),
		"{behavioral_constraints_title}", lang.Constraints.Title,
		"{behavioral_constraints_content}", constraints.String(),
		"{context}", context,
		"{history}", historyText,
		"{question}", question,
	)
	return replacer.Replace(lang.Template) + constraintSuffix, nil
}

// FormatHistory renders the trailing conversation window for the prompt.
//
// The in-flight user turn (the last message) is excluded; up to
// historyWindow turns before it are labeled and joined. Returns "" when
// there is no prior turn, so a first question produces no history block.
func FormatHistory(messages []datatypes.Message) string {
	if len(messages) <= 1 {
		return ""
	}

	start := len(messages) - 1 - historyWindow
	if start < 0 {
		start = 0
	}
	window := messages[start : len(messages)-1]

	var b strings.Builder
	b.WriteString("\n\nHISTORIQUE DE LA CONVERSATION:\n")
	for _, msg := range window {
		label := "Assistant"
		if msg.Role == "user" {
			label = "Utilisateur"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, msg.Content)
	}
	return b.String()
}
