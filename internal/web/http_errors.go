package web

import (
	"errors"
	"net/http"

	"github.com/flowsmith-ai/flowsmith/internal/core"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// respondError maps an error to an HTTP status and JSON body. Domain
// errors carry their code and details; anything else is a 500 with a
// generic message so internals never leak.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		s.logger.Error("internal error", "error", err.Error())
		s.respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}

	s.respondJSON(w, statusForDomainError(domErr), errorBody{
		Error:   domErr.Message,
		Code:    domErr.Code,
		Details: domErr.Details,
	})
}

func statusForDomainError(err *core.DomainError) int {
	switch err.Code {
	case core.CodeSlotsExhausted:
		return http.StatusServiceUnavailable
	case "NOT_FOUND", core.CodeSessionNotFound, core.CodeSlotNotFound:
		return http.StatusNotFound
	case core.CodeEmptyMessage, core.CodeMessageTooLong:
		return http.StatusUnprocessableEntity
	case core.CodeInvalidState:
		return http.StatusConflict
	}

	switch err.Classification {
	case core.ClassAuthFailure:
		return http.StatusUnauthorized
	case core.ClassRateLimited:
		return http.StatusTooManyRequests
	case core.ClassTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusBadRequest
}
