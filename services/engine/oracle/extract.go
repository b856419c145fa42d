// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/Sounder/services/engine/probe"
)

// =============================================================================
// Oracle Response Extraction
// =============================================================================

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON pulls the JSON object out of a generation that may wrap
// it in markdown fences or prose.
func extractJSON(text string) (string, bool) {
	if strings.Contains(text, "```") {
		parts := strings.Split(text, "```")
		// Fenced content sits at the odd indices.
		for i := 1; i < len(parts); i += 2 {
			candidate := strings.TrimSpace(parts[i])
			candidate = strings.TrimPrefix(candidate, "json")
			candidate = strings.TrimSpace(candidate)
			if strings.HasPrefix(candidate, "{") {
				return candidate, true
			}
		}
	}
	if match := jsonObjectPattern.FindString(text); match != "" {
		return match, true
	}
	return "", false
}

// =============================================================================
// Failure Artifact Extraction
// =============================================================================

// FailureDetails is what the interpreter could read out of a failure
// artifact.
type FailureDetails struct {
	// Method is the HTTP method of the failing request.
	Method string

	// Endpoint is the path of the failing request.
	Endpoint string

	// Status is the observed response status, 0 when unparseable.
	Status int

	// Message is the extracted error message, empty when none found.
	Message string
}

var statusPatterns = []*regexp.Regexp{
	regexp.MustCompile(`got\s+(\d{3})`),
	regexp.MustCompile(`<Response\s*\[(\d{3})`),
	regexp.MustCompile(`status[_ ]code\D{0,10}(\d{3})`),
	regexp.MustCompile(`(?i)expected.*?got\s+(\d{3})`),
}

var messagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`"error":\s*"([^"]*)"`),
	regexp.MustCompile(`'error':\s*'([^']*)'`),
	regexp.MustCompile(`(?i)"(?:message|detail)":\s*"([^"]*)"`),
	regexp.MustCompile(`(?m)AssertionError:\s*(.+)$`),
}

// alternativeMessagePatterns are the looser fallbacks tried when no
// structured error message matched.
var alternativeMessagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)"([^"]*(?:required|missing|invalid|must|cannot|expected)[^"]*)"`),
	regexp.MustCompile(`(?i)'([^']*(?:required|missing|invalid|must|cannot|expected)[^']*)'`),
	regexp.MustCompile(`(?m)Error:\s*(.+)$`),
	regexp.MustCompile(`(?m)FAILED.*?-\s*(.+)$`),
}

var requestLinePattern = regexp.MustCompile(`(GET|POST|PUT|PATCH|DELETE)\s+(/[\w/\-]*)`)

// ExtractFailureDetails reads method, endpoint, status, and error
// message out of a failure artifact. The executor's request details
// take precedence for method and endpoint; the artifact fills the
// rest.
func ExtractFailureDetails(artifact string, request probe.RequestDetails) FailureDetails {
	details := FailureDetails{
		Method:   request.Method,
		Endpoint: request.Endpoint,
	}
	if details.Method == "" || details.Endpoint == "" {
		if m := requestLinePattern.FindStringSubmatch(artifact); m != nil {
			if details.Method == "" {
				details.Method = m[1]
			}
			if details.Endpoint == "" {
				details.Endpoint = m[2]
			}
		}
	}

	for _, p := range statusPatterns {
		if m := p.FindStringSubmatch(artifact); m != nil {
			if status, err := strconv.Atoi(m[1]); err == nil {
				details.Status = status
				break
			}
		}
	}

	for _, p := range messagePatterns {
		if m := p.FindStringSubmatch(artifact); m != nil {
			details.Message = strings.TrimSpace(m[1])
			break
		}
	}
	if details.Message == "" {
		for _, p := range alternativeMessagePatterns {
			if m := p.FindStringSubmatch(artifact); m != nil {
				details.Message = strings.TrimSpace(m[1])
				break
			}
		}
	}
	return details
}
