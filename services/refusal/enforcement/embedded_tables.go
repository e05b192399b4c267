// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
This file serves as the bridge between the build system and the runtime logic. It utilizes the Go
embed package to bake the refusal pattern and response tables directly into the compiled binary.
This ensures that the safety rules are immutable at runtime and travel with the executable.
*/

package enforcement

import (
	_ "embed"
)

// RefusalPatterns holds the raw byte content of 'refusal_patterns.yaml'.
//
// Populated at compile-time via the Go 'embed' directive. Baking the YAML
// into the binary means the risk-gate rules cannot be tampered with on the
// host filesystem without recompiling the application.
//
//go:embed refusal_patterns.yaml
var RefusalPatterns []byte

// RefusalResponses holds the raw byte content of 'refusal_responses.yaml',
// the canned localized answers returned for refused queries.
//
//go:embed refusal_responses.yaml
var RefusalResponses []byte
