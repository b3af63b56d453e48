package engine

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// errorPayload is the engine's error body shape. Engines are not
// consistent about which field carries the text, so both are read.
type errorPayload struct {
	Message     string `json:"message"`
	Description string `json:"description"`
}

// phrase tables mapping engine diagnostics to classifications. Matched
// in order against the lowercased error text; the status code decides
// when no phrase matches.
var (
	readOnlyPhrases = []string{
		"read-only",
		"read only",
		"must not be provided",
		"additional properties",
		"property id should not exist",
	}
	connectionPhrases = []string{
		"connection",
		"unknown node",
		"node does not exist",
		"invalid edge",
	}
	schemaPhrases = []string{
		"schema",
		"validation failed",
		"invalid request body",
		"required property",
		"must be",
	}
)

// Classify converts an engine error response into a classified domain
// error carrying the raw diagnostic.
func Classify(status int, body []byte) *core.DomainError {
	diagnostic := diagnosticText(body)
	lower := strings.ToLower(diagnostic)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.ErrAuth(diagnostic)
	case http.StatusTooManyRequests:
		return core.ErrRateLimited(diagnostic)
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return core.ErrTimeout(diagnostic)
	case http.StatusNotFound:
		return core.ErrNotFound("workflow", diagnostic)
	}

	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		if matchesAny(lower, readOnlyPhrases) {
			return core.ErrReadOnlyField(diagnostic, nil)
		}
		if matchesAny(lower, connectionPhrases) {
			return core.ErrInvalidConnection(diagnostic)
		}
		if matchesAny(lower, schemaPhrases) {
			return core.ErrSchemaViolation(diagnostic)
		}
		// A 4xx with an unrecognized body is still a request problem.
		return core.ErrSchemaViolation(diagnostic)
	}

	if status >= 500 {
		return core.ErrTimeout(diagnostic)
	}
	return core.ErrUnknown(diagnostic)
}

// diagnosticText extracts a readable message from the error body,
// falling back to the raw text for non-JSON bodies.
func diagnosticText(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "engine returned an empty error body"
	}
	var payload errorPayload
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Description != "" {
			return payload.Description
		}
	}
	return trimmed
}

func matchesAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
