// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers. Services are responsible for:
//   - Orchestrating calls to external services (embedding, vector index, LLM)
//   - Applying the risk gate and post-response classification
//   - Managing session state and the question log
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/imxlabs/nutria/services/llm"
	"github.com/imxlabs/nutria/services/orchestrator/classifier"
	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
	"github.com/imxlabs/nutria/services/orchestrator/observability"
	"github.com/imxlabs/nutria/services/orchestrator/prompt"
	"github.com/imxlabs/nutria/services/orchestrator/retrieval"
	"github.com/imxlabs/nutria/services/orchestrator/session"
	"github.com/imxlabs/nutria/services/refusal"
)

// queryTracer is the OpenTelemetry tracer for QueryService operations.
var queryTracer = otel.Tracer("nutria.orchestrator.services.query")

// indexUnavailableMessages is what the user sees when the vector index
// cannot serve the query. The stream stays well-formed: one chunk, empty
// references, done.
var indexUnavailableMessages = map[string]string{
	"fr": "Le moteur de recherche documentaire est indisponible pour le moment. Merci de réessayer dans quelques instants.",
	"en": "The document search engine is currently unavailable. Please try again in a few moments.",
}

// generationErrorMessages is the sanitized error sent when the LLM backend
// fails. Backend details stay in the server logs.
var generationErrorMessages = map[string]string{
	"fr": "Une erreur est survenue pendant la génération de la réponse. Merci de réessayer.",
	"en": "An error occurred while generating the answer. Please try again.",
}

// =============================================================================
// Interfaces
// =============================================================================

// Emitter receives the ordered stream events for one query. The SSE handler
// implements it over the wire; tests implement it in memory.
//
// Call order is fixed: Session once, then zero or more Chunk calls, then
// exactly one of References or Error, then Done. An Emitter error aborts the
// pipeline.
type Emitter interface {
	// Session announces the resolved session and question IDs.
	Session(sessionID, questionID string) error

	// Chunk delivers one answer fragment.
	Chunk(content string) error

	// References delivers the extracted reference identifiers. The slice may
	// be empty (refused or disclaimer-classified answers) but the event is
	// always sent on non-error paths.
	References(refs []string) error

	// Error delivers a single sanitized failure message.
	Error(message string) error

	// Done terminates the stream.
	Done() error
}

// Retriever abstracts the retrieval engine for testing.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) (*retrieval.Result, error)
}

// QuestionLogger abstracts the question log for testing.
type QuestionLogger interface {
	Append(questionID, question, response string) error
}

// ClientFactory builds a streaming backend for a model configuration.
type ClientFactory func(cfg datatypes.ModelConfig) (llm.StreamingClient, error)

// =============================================================================
// QueryService
// =============================================================================

// QueryService runs the full query pipeline: session resolution, risk gate,
// retrieval, prompt assembly, streamed generation, post-response
// classification, and logging.
//
// # Thread Safety
//
// Safe for concurrent use across sessions. Two concurrent requests on the
// *same* session ID can interleave history mutations; see the session.Store
// contract.
type QueryService struct {
	gate      *refusal.Engine
	retriever Retriever
	assembler *prompt.Assembler
	sessions  session.Store
	log       QuestionLogger
	newClient ClientFactory
	metrics   *observability.QueryMetrics
}

// NewQueryService wires the pipeline. metrics may be nil (disabled); every
// other dependency is required. newClient defaults to llm.NewStreamingClient
// when nil.
func NewQueryService(
	gate *refusal.Engine,
	retriever Retriever,
	assembler *prompt.Assembler,
	sessions session.Store,
	log QuestionLogger,
	metrics *observability.QueryMetrics,
) *QueryService {
	return &QueryService{
		gate:      gate,
		retriever: retriever,
		assembler: assembler,
		sessions:  sessions,
		log:       log,
		newClient: llm.NewStreamingClient,
		metrics:   metrics,
	}
}

// Process executes one query end to end, emitting stream events in order.
//
// The returned error covers emitter/transport failures only; pipeline
// failures (index down, LLM error) are reported to the client through the
// stream and logged, not returned.
func (s *QueryService) Process(ctx context.Context, req *datatypes.QueryRequest, emit Emitter) error {
	ctx, span := queryTracer.Start(ctx, "QueryService.Process")
	defer span.End()
	start := time.Now()
	if s.metrics != nil {
		s.metrics.StreamStarted()
	}

	// end records the stream outcome exactly once, including early returns
	// on emitter failures.
	ended := false
	end := func(success bool) {
		if ended {
			return
		}
		ended = true
		if s.metrics != nil {
			s.metrics.StreamEnded(time.Since(start).Seconds(), success)
		}
	}
	defer end(false)

	// Expired sessions are reaped at the start of every request rather than
	// by a background ticker.
	swept := s.sessions.SweepExpired(ctx)
	if swept > 0 {
		slog.Info("Swept expired sessions", "count", swept)
	}
	if s.metrics != nil {
		s.metrics.RecordSweep(swept)
	}

	sess, err := s.resolveSession(ctx, req.SessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordError(observability.StageSession)
		return s.failStream(emit, req.Language, end)
	}
	questionID := uuid.New().String()
	span.SetAttributes(
		attribute.String("query.session_id", sess.ID),
		attribute.String("query.question_id", questionID),
		attribute.String("query.language", req.Language),
	)

	if err := emit.Session(sess.ID, questionID); err != nil {
		return fmt.Errorf("failed to emit the session event: %w", err)
	}

	sess.Append("user", req.Question)
	sess.Touch()

	assessment := s.gate.Assess(req.Question, req.Language)
	if s.metrics != nil {
		s.metrics.RecordQuery(string(assessment.Decision), req.Language)
	}

	if assessment.Decision == refusal.Refuse {
		return s.streamRefusal(ctx, sess, questionID, req, assessment, emit, end)
	}

	result, err := s.retriever.Retrieve(ctx, req.Question, retrieval.DefaultTopK)
	if err != nil {
		sess.TrimLastMessage()
		s.recordError(observability.StageRetrieval)
		if errors.Is(err, retrieval.ErrIndexUnavailable) {
			slog.Warn("Vector index unavailable", "question_id", questionID)
			return s.streamDiagnostic(emit, localized(indexUnavailableMessages, req.Language), end)
		}
		slog.Error("Retrieval failed", "question_id", questionID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.failStream(emit, req.Language, end)
	}

	constraintSuffix := ""
	if assessment.Decision == refusal.AllowWithConstraints {
		constraintSuffix = refusal.ConstraintSuffix
		slog.Info("Applying answer constraints", "question_id", questionID,
			"categories", assessment.MatchedCategories)
	}

	historyText := prompt.FormatHistory(sess.Messages)
	fullPrompt, err := s.assembler.Build(req.Language, result.ContextText, req.Question, historyText, constraintSuffix)
	if err != nil {
		sess.TrimLastMessage()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordError(observability.StageInternal)
		return s.failStream(emit, req.Language, end)
	}

	answer, err := s.streamGeneration(ctx, fullPrompt, emit)
	if err != nil {
		// The user turn is unwound so a retry starts from clean history, but
		// whatever was generated before the failure still goes to the log.
		sess.TrimLastMessage()
		if answer != "" {
			if logErr := s.log.Append(questionID, req.Question, answer); logErr != nil {
				slog.Error("Failed to log a partial answer", "question_id", questionID, "error", logErr)
			}
		}
		slog.Error("Generation failed", "question_id", questionID, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.recordError(observability.StageGeneration)
		return s.failStream(emit, req.Language, end)
	}

	sess.Append("assistant", answer)
	sess.Touch()

	references := result.References
	outcome := "none"
	if len(references) > 0 {
		outcome = "extracted"
	}
	if classifier.HasDisclaimer(answer) {
		slog.Info("Answer classified as referral, suppressing references",
			"question_id", questionID)
		sess.Refusals[questionID] = true
		references = []string{}
		outcome = "suppressed"
	}
	sess.Links[questionID] = references
	if s.metrics != nil {
		s.metrics.RecordReferences(outcome)
	}

	if err := s.log.Append(questionID, req.Question, answer); err != nil {
		slog.Error("Failed to append to the question log", "question_id", questionID, "error", err)
	}

	if err := emit.References(references); err != nil {
		return fmt.Errorf("failed to emit the references event: %w", err)
	}
	end(true)
	return emit.Done()
}

// resolveSession returns the requested session when it still exists, or a
// fresh one otherwise. A stale ID (expired and swept) silently gets a new
// conversation, matching the client contract.
func (s *QueryService) resolveSession(ctx context.Context, id string) (*datatypes.Session, error) {
	if id != "" {
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
		slog.Info("Requested session no longer exists, creating a new one", "session_id", id)
	}
	return s.sessions.Create(ctx, uuid.New().String())
}

// streamRefusal delivers the canned refusal as a normal-looking answer:
// one chunk, an empty references event, done. The user turn is removed from
// history so refused questions never feed later prompts, but the exchange
// is still written to the question log for auditing.
func (s *QueryService) streamRefusal(
	ctx context.Context,
	sess *datatypes.Session,
	questionID string,
	req *datatypes.QueryRequest,
	assessment refusal.Assessment,
	emit Emitter,
	end func(success bool),
) error {
	_, span := queryTracer.Start(ctx, "QueryService.streamRefusal")
	defer span.End()
	span.SetAttributes(attribute.StringSlice("refusal.categories", assessment.MatchedCategories))

	slog.Info("Risk gate refused the question",
		"question_id", questionID,
		"reasons", assessment.Reasons,
		"categories", assessment.MatchedCategories)
	if s.metrics != nil {
		s.metrics.RecordRefusal(assessment.MatchedCategories)
	}

	sess.TrimLastMessage()
	sess.Refusals[questionID] = true
	sess.Links[questionID] = []string{}

	if err := s.log.Append(questionID, req.Question, assessment.Response); err != nil {
		slog.Error("Failed to log a refused question", "question_id", questionID, "error", err)
	}

	if err := emit.Chunk(assessment.Response); err != nil {
		return fmt.Errorf("failed to emit the refusal chunk: %w", err)
	}
	if err := emit.References([]string{}); err != nil {
		return fmt.Errorf("failed to emit the references event: %w", err)
	}
	end(true)
	return emit.Done()
}

// streamDiagnostic sends a human-readable service message instead of an
// answer, keeping the stream shape intact.
func (s *QueryService) streamDiagnostic(emit Emitter, message string, end func(success bool)) error {
	if err := emit.Chunk(message); err != nil {
		return fmt.Errorf("failed to emit the diagnostic chunk: %w", err)
	}
	if err := emit.References([]string{}); err != nil {
		return fmt.Errorf("failed to emit the references event: %w", err)
	}
	end(true)
	return emit.Done()
}

// streamGeneration runs the LLM stream, forwarding fragments to the emitter
// and accumulating the full answer for classification and logging. On
// failure it returns the fragments received so far alongside the error, so
// the caller can still log the partial answer.
func (s *QueryService) streamGeneration(ctx context.Context, fullPrompt string, emit Emitter) (string, error) {
	client, err := s.newClient(s.assembler.ModelConfig())
	if err != nil {
		return "", fmt.Errorf("failed to build the generation backend: %w", err)
	}

	var answer strings.Builder
	var emitErr error
	err = client.ChatStream(ctx,
		[]datatypes.Message{{Role: "user", Content: fullPrompt}},
		llm.GenerationParams{},
		func(event llm.StreamEvent) error {
			if event.Type != llm.StreamEventToken {
				return nil
			}
			answer.WriteString(event.Content)
			if err := emit.Chunk(event.Content); err != nil {
				emitErr = err
				return err
			}
			return nil
		})
	if emitErr != nil {
		return answer.String(), fmt.Errorf("failed to emit an answer chunk: %w", emitErr)
	}
	return answer.String(), err
}

// failStream reports a pipeline failure to the client as a single error
// event followed by done.
func (s *QueryService) failStream(emit Emitter, language string, end func(success bool)) error {
	if err := emit.Error(localized(generationErrorMessages, language)); err != nil {
		return fmt.Errorf("failed to emit the error event: %w", err)
	}
	end(false)
	return emit.Done()
}

func (s *QueryService) recordError(stage observability.ErrorStage) {
	if s.metrics != nil {
		s.metrics.RecordError(stage)
	}
}

// localized picks the message for language, falling back to French.
func localized(messages map[string]string, language string) string {
	if msg, ok := messages[language]; ok {
		return msg
	}
	return messages["fr"]
}
