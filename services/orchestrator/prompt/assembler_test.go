// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	assembler, err := NewAssembler()
	require.NoError(t, err, "embedded prompt templates must load")
	return assembler
}

func TestNewAssembler_LoadsEmbeddedTemplates(t *testing.T) {
	assembler := newTestAssembler(t)

	assert.Contains(t, assembler.languages, "fr")
	assert.Contains(t, assembler.languages, "en")
	assert.Equal(t, "openai", assembler.ModelConfig().Supplier)
	assert.NotEmpty(t, assembler.ModelConfig().Name)
}

func TestNewAssembler_EnvironmentOverridesModel(t *testing.T) {
	t.Setenv("MODEL_SUPPLIER", "ollama")
	t.Setenv("MODEL_NAME", "llama3")

	assembler, err := NewAssembler()
	require.NoError(t, err)
	assert.Equal(t, datatypes.ModelConfig{Supplier: "ollama", Name: "llama3"}, assembler.ModelConfig())
}

func TestBuild_FillsEverySlot(t *testing.T) {
	assembler := newTestAssembler(t)

	prompt, err := assembler.Build("fr",
		"Les fibres ralentissent la digestion.",
		"Quels sont les effets des fibres ?",
		"\n\nHISTORIQUE DE LA CONVERSATION:\nUtilisateur: bonjour\n",
		"")
	require.NoError(t, err)

	assert.Contains(t, prompt, "Les fibres ralentissent la digestion.")
	assert.Contains(t, prompt, "QUESTION DE L'UTILISATEUR: Quels sont les effets des fibres ?")
	assert.Contains(t, prompt, "HISTORIQUE DE LA CONVERSATION:")
	assert.Contains(t, prompt, "RÈGLES ABSOLUES")
	assert.NotContains(t, prompt, "{context}", "no placeholder may survive assembly")
	assert.NotContains(t, prompt, "{question}")
	assert.NotContains(t, prompt, "{history}")
}

func TestBuild_AppendsConstraintSuffix(t *testing.T) {
	assembler := newTestAssembler(t)
	suffix := "\n\nADDITIONAL CONSTRAINTS:\n- Keep it general.\n"

	prompt, err := assembler.Build("fr", "ctx", "Les oméga-3 sont-ils utiles ?", "", suffix)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(prompt, suffix))
}

func TestBuild_UnknownLanguageFallsBackToFrench(t *testing.T) {
	assembler := newTestAssembler(t)

	prompt, err := assembler.Build("de", "ctx", "Frage ?", "", "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "QUESTION DE L'UTILISATEUR:")
}

func TestBuild_EnglishTemplate(t *testing.T) {
	assembler := newTestAssembler(t)

	prompt, err := assembler.Build("en", "Fiber slows digestion.", "What does fiber do?", "", "")
	require.NoError(t, err)
	assert.Contains(t, prompt, "AVAILABLE CONTEXT:")
	assert.Contains(t, prompt, "USER QUESTION: What does fiber do?")
}

func TestBuild_MissingTemplateFails(t *testing.T) {
	assembler := &Assembler{languages: map[string]languageTemplates{
		DefaultLanguage: {},
	}}

	_, err := assembler.Build("fr", "ctx", "question", "", "")
	require.Error(t, err)
}

func TestFormatHistory(t *testing.T) {
	t.Parallel()

	t.Run("first question has no history", func(t *testing.T) {
		assert.Empty(t, FormatHistory(nil))
		assert.Empty(t, FormatHistory([]datatypes.Message{
			{Role: "user", Content: "first question"},
		}))
	})

	t.Run("excludes the in-flight user turn", func(t *testing.T) {
		got := FormatHistory([]datatypes.Message{
			{Role: "user", Content: "q1"},
			{Role: "assistant", Content: "a1"},
			{Role: "user", Content: "q2 in flight"},
		})
		assert.Contains(t, got, "Utilisateur: q1\n")
		assert.Contains(t, got, "Assistant: a1\n")
		assert.NotContains(t, got, "q2 in flight")
	})

	t.Run("keeps only the trailing window", func(t *testing.T) {
		var messages []datatypes.Message
		for i := 0; i < 6; i++ {
			messages = append(messages,
				datatypes.Message{Role: "user", Content: fmt.Sprintf("q%d", i)},
				datatypes.Message{Role: "assistant", Content: fmt.Sprintf("a%d", i)},
			)
		}
		messages = append(messages, datatypes.Message{Role: "user", Content: "current"})

		got := FormatHistory(messages)
		assert.NotContains(t, got, "q0")
		assert.NotContains(t, got, "a2")
		assert.Contains(t, got, "Utilisateur: q3")
		assert.Contains(t, got, "Assistant: a5")
		assert.NotContains(t, got, "current")
	})
}
