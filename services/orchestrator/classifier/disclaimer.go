// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier inspects generated answers after the fact. An answer
// that mostly redirects the user to a health professional should not be
// dressed up with scientific references, so the disclaimer check gates the
// reference event.
package classifier

import "strings"

// disclaimerPhrases are matched case-insensitively as substrings. The list
// mixes French and English deliberately: answers sometimes switch language
// mid-response and the check must catch both.
var disclaimerPhrases = []string{
	// French
	"consulter un professionnel",
	"consulte un professionnel",
	"consultez un professionnel",
	"consulter votre médecin",
	"consultez votre médecin",
	"parler à un médecin",
	"parlez à un médecin",
	"voir un médecin",
	"voyez un médecin",
	"demander conseil à un professionnel",
	"demandez conseil à un professionnel",
	"avis médical",
	"consultation médicale",
	"professionnel de santé",
	"professionnel de la santé",
	"nutritionniste",
	"diététicien",
	// English
	"consult a professional",
	"consult your doctor",
	"see a doctor",
	"talk to a doctor",
	"speak to a doctor",
	"seek medical advice",
	"medical consultation",
	"health professional",
	"healthcare professional",
	"nutritionist",
	"dietitian",
}

// HasDisclaimer reports whether the answer defers to a medical
// professional. Empty answers never match.
func HasDisclaimer(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, phrase := range disclaimerPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
