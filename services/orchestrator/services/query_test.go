// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imxlabs/nutria/services/llm"
	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/prompt"
	"github.com/imxlabs/nutria/services/orchestrator/retrieval"
	"github.com/imxlabs/nutria/services/orchestrator/session"
	"github.com/imxlabs/nutria/services/refusal"
)

// =============================================================================
// Test Doubles
// =============================================================================

// recordedEvent captures one emitter call for order and content assertions.
type recordedEvent struct {
	kind       string
	content    string
	references []string
	sessionID  string
	questionID string
}

type memEmitter struct {
	events []recordedEvent

	// chunkErr, when set, is returned by the Chunk call at index chunkErrAt,
	// simulating a client that dropped the connection mid-stream.
	chunkErr   error
	chunkErrAt int
	chunkCalls int
}

func (m *memEmitter) Session(sessionID, questionID string) error {
	m.events = append(m.events, recordedEvent{kind: "session", sessionID: sessionID, questionID: questionID})
	return nil
}

func (m *memEmitter) Chunk(content string) error {
	if m.chunkErr != nil && m.chunkCalls == m.chunkErrAt {
		return m.chunkErr
	}
	m.chunkCalls++
	m.events = append(m.events, recordedEvent{kind: "chunk", content: content})
	return nil
}

func (m *memEmitter) References(refs []string) error {
	m.events = append(m.events, recordedEvent{kind: "references", references: refs})
	return nil
}

func (m *memEmitter) Error(message string) error {
	m.events = append(m.events, recordedEvent{kind: "error", content: message})
	return nil
}

func (m *memEmitter) Done() error {
	m.events = append(m.events, recordedEvent{kind: "done"})
	return nil
}

func (m *memEmitter) kinds() []string {
	kinds := make([]string, 0, len(m.events))
	for _, e := range m.events {
		kinds = append(kinds, e.kind)
	}
	return kinds
}

func (m *memEmitter) answer() string {
	var b strings.Builder
	for _, e := range m.events {
		if e.kind == "chunk" {
			b.WriteString(e.content)
		}
	}
	return b.String()
}

func (m *memEmitter) find(kind string) *recordedEvent {
	for i := range m.events {
		if m.events[i].kind == kind {
			return &m.events[i]
		}
	}
	return nil
}

type mockRetriever struct {
	result *retrieval.Result
	err    error
	calls  int
}

func (m *mockRetriever) Retrieve(_ context.Context, _ string, _ int) (*retrieval.Result, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockLogger struct {
	entries []struct{ questionID, question, response string }
}

func (m *mockLogger) Append(questionID, question, response string) error {
	m.entries = append(m.entries, struct{ questionID, question, response string }{questionID, question, response})
	return nil
}

// scriptedClient replays a fixed token sequence, or fails partway through.
type scriptedClient struct {
	tokens     []string
	failAfter  int
	failErr    error
	lastPrompt string
}

func (c *scriptedClient) ChatStream(_ context.Context, messages []datatypes.Message,
	_ llm.GenerationParams, callback llm.StreamCallback) error {
	c.lastPrompt = messages[len(messages)-1].Content
	for i, tok := range c.tokens {
		if c.failErr != nil && i == c.failAfter {
			return c.failErr
		}
		if err := callback(llm.StreamEvent{Type: llm.StreamEventToken, Content: tok}); err != nil {
			return err
		}
	}
	if c.failErr != nil && c.failAfter >= len(c.tokens) {
		return c.failErr
	}
	return callback(llm.StreamEvent{Type: llm.StreamEventDone})
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	svc       *QueryService
	sessions  *session.MemoryStore
	retriever *mockRetriever
	logger    *mockLogger
	client    *scriptedClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gate, err := refusal.NewEngine()
	require.NoError(t, err)
	assembler, err := prompt.NewAssembler()
	require.NoError(t, err)

	f := &fixture{
		sessions: session.NewMemoryStore(2 * time.Hour),
		retriever: &mockRetriever{result: &retrieval.Result{
			ContextText: "Les fibres ralentissent l'absorption des glucides.",
			References:  []string{"PMID: 12345"},
		}},
		logger: &mockLogger{},
		client: &scriptedClient{tokens: []string{"Les fibres ", "ralentissent la digestion."}},
	}
	f.svc = NewQueryService(gate, f.retriever, assembler, f.sessions, f.logger, nil)
	f.svc.newClient = func(_ datatypes.ModelConfig) (llm.StreamingClient, error) {
		return f.client, nil
	}
	return f
}

func (f *fixture) process(t *testing.T, req *datatypes.QueryRequest) *memEmitter {
	t.Helper()
	req.EnsureDefaults()
	emitter := &memEmitter{}
	require.NoError(t, f.svc.Process(context.Background(), req, emitter))
	return emitter
}

// =============================================================================
// Tests
// =============================================================================

func TestProcess_AllowedQuestionStreamsAnswerAndReferences(t *testing.T) {
	f := newFixture(t)

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	assert.Equal(t, []string{"session", "chunk", "chunk", "references", "done"}, emitter.kinds())
	assert.Equal(t, "Les fibres ralentissent la digestion.", emitter.answer())
	assert.Equal(t, []string{"PMID: 12345"}, emitter.find("references").references)

	// Retrieved context and question both land in the prompt.
	assert.Contains(t, f.client.lastPrompt, "Les fibres ralentissent l'absorption des glucides.")
	assert.Contains(t, f.client.lastPrompt, "effets des fibres alimentaires")

	// Both turns persisted, links cached under the question id.
	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Len(t, sess.Messages, 2)
	assert.Equal(t, "assistant", sess.Messages[1].Role)
	assert.Equal(t, []string{"PMID: 12345"}, sess.Links[sessEvent.questionID])
	assert.False(t, sess.Refusals[sessEvent.questionID])

	require.Len(t, f.logger.entries, 1)
	assert.Equal(t, "Les fibres ralentissent la digestion.", f.logger.entries[0].response)
}

func TestProcess_RefusedQuestionSkipsRetrievalAndGeneration(t *testing.T) {
	f := newFixture(t)

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quel est le traitement pour le diabète ?",
	})

	assert.Equal(t, []string{"session", "chunk", "references", "done"}, emitter.kinds())
	assert.NotEmpty(t, emitter.answer(), "refusal must carry a canned response")
	assert.Empty(t, emitter.find("references").references)
	assert.Zero(t, f.retriever.calls, "refused questions never hit the index")

	// The user turn is unwound and the question id marked as refused.
	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
	assert.True(t, sess.Refusals[sessEvent.questionID])

	// Refusals are still audit-logged.
	require.Len(t, f.logger.entries, 1)
	assert.Equal(t, emitter.answer(), f.logger.entries[0].response)
}

func TestProcess_DisclaimerAnswerSuppressesReferences(t *testing.T) {
	f := newFixture(t)
	f.client.tokens = []string{"Pour votre cas précis, ", "consultez votre médecin."}

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	assert.Equal(t, []string{"session", "chunk", "chunk", "references", "done"}, emitter.kinds())
	assert.Empty(t, emitter.find("references").references)

	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	assert.True(t, sess.Refusals[sessEvent.questionID])
	assert.Empty(t, sess.Links[sessEvent.questionID])
	// The answer itself still lands in history.
	require.Len(t, sess.Messages, 2)
}

func TestProcess_ConstraintsAppendedForSupplementQuestions(t *testing.T) {
	f := newFixture(t)

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Les compléments d'oméga-3 sont-ils utiles pour le cœur ?",
	})

	assert.Equal(t, "done", emitter.events[len(emitter.events)-1].kind)
	assert.True(t, strings.HasSuffix(f.client.lastPrompt, refusal.ConstraintSuffix),
		"allow_with_constraints must append the constraint block")
}

func TestProcess_IndexUnavailableSendsDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.retriever.err = retrieval.ErrIndexUnavailable

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	assert.Equal(t, []string{"session", "chunk", "references", "done"}, emitter.kinds())
	assert.Contains(t, emitter.answer(), "indisponible")
	assert.Empty(t, emitter.find("references").references)

	// Failed attempts leave history clean.
	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestProcess_GenerationFailureEmitsSingleError(t *testing.T) {
	f := newFixture(t)
	f.client.failErr = errors.New("backend exploded")
	f.client.failAfter = 1

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	kinds := emitter.kinds()
	assert.Equal(t, "error", kinds[len(kinds)-2])
	assert.Equal(t, "done", kinds[len(kinds)-1])
	assert.Nil(t, emitter.find("references"), "no references event on the error path")

	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages, "failed generations must not poison history")

	// The fragment generated before the crash is still logged.
	require.Len(t, f.logger.entries, 1)
	assert.Equal(t, "Les fibres ", f.logger.entries[0].response)
	assert.Equal(t, sessEvent.questionID, f.logger.entries[0].questionID)
}

func TestProcess_PartialAnswerLoggedOnTransportAbort(t *testing.T) {
	f := newFixture(t)

	req := &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	}
	req.EnsureDefaults()

	// The first chunk reaches the client, the second one hits a dead socket.
	emitter := &memEmitter{chunkErr: errors.New("connection reset"), chunkErrAt: 1}
	_ = f.svc.Process(context.Background(), req, emitter)

	// Everything generated up to the abort is logged, and the unanswered
	// user turn does not linger in history.
	require.Len(t, f.logger.entries, 1)
	assert.Equal(t, "Les fibres ralentissent la digestion.", f.logger.entries[0].response)

	sessEvent := emitter.find("session")
	sess, err := f.sessions.Get(context.Background(), sessEvent.sessionID)
	require.NoError(t, err)
	assert.Empty(t, sess.Messages)
}

func TestProcess_NothingLoggedWhenBackendProducesNoTokens(t *testing.T) {
	f := newFixture(t)
	f.client.failErr = errors.New("backend exploded")
	f.client.failAfter = 0

	f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	assert.Empty(t, f.logger.entries, "an empty partial answer is not an entry")
}

func TestProcess_ReusesExistingSession(t *testing.T) {
	f := newFixture(t)

	first := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})
	sessionID := first.find("session").sessionID

	second := f.process(t, &datatypes.QueryRequest{
		Question:  "Et sur la satiété, quels sont les effets connus ?",
		SessionID: sessionID,
	})
	assert.Equal(t, sessionID, second.find("session").sessionID)

	sess, err := f.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Len(t, sess.Messages, 4)

	// The second prompt carries the first exchange as history.
	assert.Contains(t, f.client.lastPrompt, "HISTORIQUE DE LA CONVERSATION:")
	assert.Contains(t, f.client.lastPrompt, "Utilisateur: Quels sont les effets des fibres")
}

func TestProcess_StaleSessionIDCreatesFreshSession(t *testing.T) {
	f := newFixture(t)

	emitter := f.process(t, &datatypes.QueryRequest{
		Question:  "Quels sont les effets des fibres alimentaires sur la digestion ?",
		SessionID: "00000000-0000-0000-0000-000000000000",
	})

	got := emitter.find("session").sessionID
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", got)
}

func TestProcess_BackendFactoryFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.newClient = func(_ datatypes.ModelConfig) (llm.StreamingClient, error) {
		return nil, errors.New("no api key")
	}

	emitter := f.process(t, &datatypes.QueryRequest{
		Question: "Quels sont les effets des fibres alimentaires sur la digestion ?",
	})

	kinds := emitter.kinds()
	assert.Equal(t, "error", kinds[len(kinds)-2])
	assert.Equal(t, "done", kinds[len(kinds)-1])
}
