// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval embeds the user question, queries the vector index for
// the most similar passages, and assembles the generation context plus the
// scientific references backing it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("nutria.orchestrator.retrieval")

// ErrIndexUnavailable signals that the vector index is not configured or
// not reachable. The pipeline surfaces this as a diagnostic message to the
// client instead of failing the stream.
var ErrIndexUnavailable = errors.New("vector index is not available")

// DefaultTopK is the number of passages retrieved per query.
const DefaultTopK = 5

// maxEmbedLength bounds the text sent to the embedding API.
const maxEmbedLength = 8192

// Passage is one retrieved chunk of the indexed corpus.
//
// Links carries the comma-separated reference identifiers attached at
// indexing time; empty for corpora indexed before that field existed.
type Passage struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
	Links      string  `json:"links"`
	Certainty  float32 `json:"certainty"`
}

// Result is the output of one retrieval run.
type Result struct {
	// ContextText is the passage contents joined for prompt injection.
	ContextText string
	// Passages are the raw matches, most similar first.
	Passages []Passage
	// References are the extracted identifiers ("PMID: 12345"), sorted.
	// Empty (never nil) when the question was not substantial or nothing
	// was found.
	References []string
}

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher queries the vector index.
type Searcher interface {
	// Search returns the topK most similar passages.
	Search(ctx context.Context, vector []float32, topK int) ([]Passage, error)

	// ChunkZero fetches the first chunk of a source document, or nil when
	// the document has no chunk-zero record.
	ChunkZero(ctx context.Context, source string) (*Passage, error)
}

// Engine runs the retrieval pipeline. A nil searcher means no index is
// configured; Retrieve then fails with ErrIndexUnavailable.
type Engine struct {
	embedder Embedder
	searcher Searcher
}

// NewEngine creates a retrieval engine over the given embedder and index.
func NewEngine(embedder Embedder, searcher Searcher) *Engine {
	return &Engine{embedder: embedder, searcher: searcher}
}

// Retrieve embeds question, fetches the topK closest passages, joins their
// contents into the generation context, and extracts references.
//
// References are only computed for substantial questions; greetings and
// other trivial inputs get passages but an empty reference list. topK
// values below 1 use DefaultTopK.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	if e.searcher == nil || e.embedder == nil {
		span.SetStatus(codes.Error, ErrIndexUnavailable.Error())
		return nil, ErrIndexUnavailable
	}
	if topK < 1 {
		topK = DefaultTopK
	}
	span.SetAttributes(attribute.Int("retrieval.top_k", topK))

	text := question
	if len(text) > maxEmbedLength {
		text = text[:maxEmbedLength]
		slog.Debug("Truncated question for embedding", "original_len", len(question))
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to embed the question: %w", err)
	}

	passages, err := e.searcher.Search(ctx, vector, topK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	span.SetAttributes(attribute.Int("retrieval.num_passages", len(passages)))

	contents := make([]string, 0, len(passages))
	for _, p := range passages {
		contents = append(contents, p.Content)
	}

	references := []string{}
	if IsSubstantial(question) {
		references = e.extractReferences(ctx, passages)
	} else {
		slog.Debug("Skipping reference extraction for non-substantial question")
	}

	return &Result{
		ContextText: strings.Join(contents, "\n\n"),
		Passages:    passages,
		References:  references,
	}, nil
}
