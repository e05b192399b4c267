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
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// pmidPattern matches literature identifiers in passage text. The whole
// match (including the label) is kept as the reference string.
var pmidPattern = regexp.MustCompile(`PMID:\s*\d+`)

// genericPhrases are inputs too trivial to back with references. Matching
// is exact on the lowercased trimmed question, with or without a trailing
// question mark.
var genericPhrases = []string{
	"pose une question",
	"aide moi",
	"bonjour",
	"salut",
	"merci",
	"hello",
	"hi",
	"help",
	"ask a question",
	"ask question",
}

// IsSubstantial reports whether a question deserves reference extraction.
// A substantial question is at least 10 characters, contains at least
// three words of three or more characters, and is not a known greeting.
func IsSubstantial(question string) bool {
	trimmed := strings.TrimSpace(question)
	if len(trimmed) < 10 {
		return false
	}

	significant := 0
	for _, w := range strings.Fields(trimmed) {
		if len(w) >= 3 {
			significant++
		}
	}
	if significant < 3 {
		return false
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range genericPhrases {
		if lower == phrase || lower == phrase+"?" {
			return false
		}
	}
	return true
}

// extractPMIDs returns every identifier match in text.
func extractPMIDs(text string) []string {
	return pmidPattern.FindAllString(text, -1)
}

// extractReferences resolves the references backing a set of passages.
//
// Three sources are tried in strict priority order; a hit at one level
// short-circuits the levels below it:
//
//  1. The passages' links metadata. Each entry is a comma-separated list of
//     identifiers attached at indexing time; the union over all passages
//     wins even if the raw text also contains identifier strings.
//  2. Identifier patterns in the matched passage text.
//  3. The chunk-zero record of each distinct source document, scanned for
//     identifier patterns. Documents cite their references up front, so the
//     first chunk finds citations the matched chunks missed.
//
// The result is sorted and never nil.
func (e *Engine) extractReferences(ctx context.Context, passages []Passage) []string {
	set := make(map[string]bool)

	for _, p := range passages {
		if p.Links == "" {
			continue
		}
		for _, link := range strings.Split(p.Links, ",") {
			link = strings.TrimSpace(link)
			if link != "" {
				set["PMID: "+link] = true
			}
		}
	}

	if len(set) == 0 {
		for _, p := range passages {
			for _, id := range extractPMIDs(p.Content) {
				set[id] = true
			}
		}
	}

	if len(set) == 0 {
		seen := make(map[string]bool)
		for _, p := range passages {
			if p.Source == "" || seen[p.Source] {
				continue
			}
			seen[p.Source] = true

			chunk, err := e.searcher.ChunkZero(ctx, p.Source)
			if err != nil {
				slog.Warn("Failed to fetch chunk zero for references", "source", p.Source, "error", err)
				continue
			}
			if chunk == nil {
				continue
			}
			for _, id := range extractPMIDs(chunk.Content) {
				set[id] = true
			}
		}
	}

	references := make([]string, 0, len(set))
	for id := range set {
		references = append(references, id)
	}
	sort.Strings(references)
	return references
}
