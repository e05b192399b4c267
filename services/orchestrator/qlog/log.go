// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package qlog persists every question/answer pair to a JSON file so that
// reviewers can audit answers and attach feedback after the fact. The file
// is small and rewritten whole on each mutation; a process-wide mutex
// serializes the read-modify-write cycle.
package qlog

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultPath is where the log lands when no path is configured.
const DefaultPath = "question_log.json"

// ErrEntryNotFound is returned when feedback targets an unknown question id.
var ErrEntryNotFound = errors.New("question id not found in the question log")

// Comment is reviewer feedback attached to an entry. Attaching a new
// comment replaces any previous one.
type Comment struct {
	Comment   string `json:"comment"`
	Timestamp string `json:"timestamp"`
}

// Vote is a thumbs up/down on an answer. A new vote replaces the old one.
type Vote struct {
	Like      bool   `json:"like"`
	Timestamp string `json:"timestamp"`
}

// Entry is one logged question/answer pair. Refused questions are logged
// too, with the canned refusal text as the response.
type Entry struct {
	QuestionID string    `json:"question_id"`
	Question   string    `json:"question"`
	Response   string    `json:"response"`
	Timestamp  string    `json:"timestamp"`
	Comments   []Comment `json:"comments"`
	Likes      *Vote     `json:"likes,omitempty"`
}

// Log is the file-backed question log.
//
// # Limitations
//
// The mutex only protects against concurrent access from this process.
// Running two orchestrator instances against the same file will lose
// writes; the deployment runs a single instance.
type Log struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewLog opens (or lazily creates) the question log at path. An empty
// path falls back to DefaultPath in the working directory.
func NewLog(path string) *Log {
	if path == "" {
		slog.Warn("No question log path configured, using the default", "path", DefaultPath)
		path = DefaultPath
	}
	return &Log{path: path, now: time.Now}
}

// Path returns the backing file location, for the admin download route.
func (l *Log) Path() string {
	return l.path
}

// Append records a question and its full response. The entry starts with
// an empty comment list and no vote.
func (l *Log) Append(questionID, question, response string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		slog.Warn("Question log was unreadable, starting a fresh log", "path", l.path, "error", err)
		entries = nil
	}
	entries = append(entries, Entry{
		QuestionID: questionID,
		Question:   question,
		Response:   response,
		Timestamp:  l.now().Format(time.RFC3339),
		Comments:   []Comment{},
	})
	return l.save(entries)
}

// AddComment attaches a comment to an entry, replacing any previous
// comments on it. Returns ErrEntryNotFound when the id is unknown.
func (l *Log) AddComment(questionID, comment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return fmt.Errorf("failed to read the question log: %w", err)
	}
	for i := range entries {
		if entries[i].QuestionID == questionID {
			entries[i].Comments = []Comment{{
				Comment:   comment,
				Timestamp: l.now().Format(time.RFC3339),
			}}
			return l.save(entries)
		}
	}
	return ErrEntryNotFound
}

// SetLike records a like/dislike vote on an entry, replacing any previous
// vote. Returns ErrEntryNotFound when the id is unknown.
func (l *Log) SetLike(questionID string, like bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return fmt.Errorf("failed to read the question log: %w", err)
	}
	for i := range entries {
		if entries[i].QuestionID == questionID {
			entries[i].Likes = &Vote{
				Like:      like,
				Timestamp: l.now().Format(time.RFC3339),
			}
			return l.save(entries)
		}
	}
	return ErrEntryNotFound
}

// Entries returns a snapshot of the log, oldest first.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// load reads the backing file. A missing file is an empty log.
func (l *Log) load() ([]Entry, error) {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse the question log: %w", err)
	}
	return entries, nil
}

// save rewrites the backing file with the full entry list.
func (l *Log) save(entries []Entry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal the question log: %w", err)
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write the question log: %w", err)
	}
	return nil
}
