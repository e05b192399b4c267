// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides interchangeable streaming generation backends. The
// query pipeline only sees the StreamingClient interface; the concrete
// backend is picked at runtime from the model configuration.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imxlabs/nutria/services/orchestrator/datatypes"
)

// GenerationParams carries optional sampling parameters. Nil fields use
// backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// StreamEventType discriminates streaming callback events.
type StreamEventType string

const (
	// StreamEventToken carries one answer fragment.
	StreamEventToken StreamEventType = "token"
	// StreamEventDone signals the end of the stream.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is a single event delivered to a StreamCallback.
type StreamEvent struct {
	Type    StreamEventType
	Content string
}

// StreamCallback receives stream events in order. Returning an error aborts
// the stream.
type StreamCallback func(event StreamEvent) error

// StreamingClient is the contract every generation backend implements.
//
// ChatStream sends the conversation to the backend and invokes callback for
// each fragment as it arrives, then once with StreamEventDone. Leading
// whitespace is stripped from the first non-empty fragment so every backend
// produces an identically-normalized answer head. Implementations return an
// error instead of emitting partial silence when the backend fails; the
// caller decides how to surface it to the client.
type StreamingClient interface {
	ChatStream(ctx context.Context, messages []datatypes.Message,
		params GenerationParams, callback StreamCallback) error
}

// UnsupportedProviderError is returned by NewStreamingClient for supplier
// names no backend is registered under.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported llm provider: %q", e.Provider)
}

// IsUnsupportedProvider reports whether err is an UnsupportedProviderError.
func IsUnsupportedProvider(err error) bool {
	var target *UnsupportedProviderError
	return errors.As(err, &target)
}

// NewStreamingClient builds the backend selected by cfg.Supplier. When
// cfg.Name is set it overrides the backend's environment-configured model.
func NewStreamingClient(cfg datatypes.ModelConfig) (StreamingClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Supplier)) {
	case "openai":
		client, err := NewOpenAIClient()
		if err != nil {
			return nil, err
		}
		if cfg.Name != "" {
			client.model = cfg.Name
		}
		return client, nil
	case "ollama":
		client, err := NewOllamaClient()
		if err != nil {
			return nil, err
		}
		if cfg.Name != "" {
			client.model = cfg.Name
		}
		return client, nil
	default:
		return nil, &UnsupportedProviderError{Provider: cfg.Supplier}
	}
}

// trimLeadingCallback wraps callback so the first non-empty token is
// left-trimmed and empty leading tokens are swallowed. Both backends route
// their token events through this wrapper.
func trimLeadingCallback(callback StreamCallback) StreamCallback {
	started := false
	return func(event StreamEvent) error {
		if event.Type == StreamEventToken && !started {
			event.Content = strings.TrimLeft(event.Content, " \t\r\n")
			if event.Content == "" {
				return nil
			}
			started = true
		}
		return callback(event)
	}
}
