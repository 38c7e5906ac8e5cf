// Package handler implements the JSON API surface. Every handler resolves the
// authenticated user from the request context, calls into a service, and
// serialises either the result or the standard error envelope.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Mohith0505/NextGenAlgo/internal/domain"
)

// errorBody is the envelope every failed request returns.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps domain errors onto HTTP statuses and the error envelope.
// Typed RMS and broker errors carry their own codes; everything else becomes
// a generic 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	code, status, msg := classify(err)
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func writeErrorCode(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func classify(err error) (code string, status int, msg string) {
	if v, ok := domain.AsRiskViolation(err); ok {
		return v.Code, riskStatus(v.Code), v.Message
	}
	if f, ok := domain.AsBrokerFault(err); ok {
		switch f.Code {
		case domain.CodeAdapterTimeout:
			return f.Code, http.StatusGatewayTimeout, f.Message
		default:
			return f.Code, http.StatusBadGateway, f.Message
		}
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.CodeNotFound, http.StatusNotFound, "resource not found"
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrRunTerminal):
		return domain.CodeConflict, http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return domain.CodeUnauthorized, http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return domain.CodeUnauthorized, http.StatusForbidden, "forbidden"
	}
	return "INTERNAL", http.StatusInternalServerError, "internal error"
}

func riskStatus(code string) int {
	switch code {
	case domain.CodeUnauthorized:
		return http.StatusUnauthorized
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict:
		return http.StatusConflict
	default:
		// RMS rejections, allocation failures and validation errors.
		return http.StatusUnprocessableEntity
	}
}

// decode reads the JSON request body into dst, rejecting unknown garbage
// early so handlers only see well-formed input.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return &domain.RiskViolation{Code: domain.CodeAllocationInvalid, Message: "invalid request body: " + err.Error()}
	}
	return nil
}
