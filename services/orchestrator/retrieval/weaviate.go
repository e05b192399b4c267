// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

// PassageClassName is the Weaviate class holding the indexed corpus.
const PassageClassName = "Passage"

// WeaviateSearcher implements Searcher over a Weaviate Passage class.
type WeaviateSearcher struct {
	client *weaviate.Client
}

// NewWeaviateSearcher wraps an existing Weaviate client.
func NewWeaviateSearcher(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

// passageFields are the properties requested from every Passage query.
// Certainty is requested instead of distance because it is always in [0,1]
// regardless of the index's distance metric.
var passageFields = []graphql.Field{
	{Name: "content"},
	{Name: "source"},
	{Name: "chunk_index"},
	{Name: "links"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "certainty"},
	}},
}

// Search implements Searcher via a nearVector query.
func (s *WeaviateSearcher) Search(ctx context.Context, vector []float32, topK int) ([]Passage, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	result, err := s.client.GraphQL().Get().
		WithClassName(PassageClassName).
		WithFields(passageFields...).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search the Passage class", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse passage results: %w", err)
	}

	passages := make([]Passage, 0, len(parsed.Get.Passage))
	for _, r := range parsed.Get.Passage {
		passages = append(passages, passageFromResult(r))
	}
	slog.Debug("Retrieved passages", "count", len(passages))
	return passages, nil
}

// ChunkZero implements Searcher via a filtered Get on source and
// chunk_index == 0.
func (s *WeaviateSearcher) ChunkZero(ctx context.Context, source string) (*Passage, error) {
	ctx, span := tracer.Start(ctx, "WeaviateSearcher.ChunkZero")
	defer span.End()

	whereFilter := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"source"}).
				WithOperator(filters.Equal).
				WithValueString(source),
			filters.Where().
				WithPath([]string{"chunk_index"}).
				WithOperator(filters.Equal).
				WithValueInt(0),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName(PassageClassName).
		WithFields(passageFields...).
		WithWhere(whereFilter).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate chunk-zero lookup failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query error: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PassageQueryResponse](result)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chunk-zero result: %w", err)
	}
	if len(parsed.Get.Passage) == 0 {
		return nil, nil
	}
	p := passageFromResult(parsed.Get.Passage[0])
	return &p, nil
}

// passageFromResult maps a GraphQL row onto the domain type.
func passageFromResult(r datatypes.PassageResult) Passage {
	p := Passage{
		Content: r.Content,
		Source:  r.Source,
		Links:   r.Links,
	}
	if r.ChunkIndex != nil {
		p.ChunkIndex = *r.ChunkIndex
	}
	if r.Additional.Certainty != nil {
		p.Certainty = *r.Additional.Certainty
	}
	return p
}

var _ Searcher = (*WeaviateSearcher)(nil)
