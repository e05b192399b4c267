// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package templates embeds the language prompt tables into the binary so
// the persona and rules ship with the executable and cannot drift from it.
package templates

import (
	_ "embed"
)

// PromptTemplates holds the raw byte content of 'prompt_templates.yaml'.
//
//go:embed prompt_templates.yaml
var PromptTemplates []byte
