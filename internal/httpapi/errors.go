package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"arkavo.org/accesscore/internal/chain"
	"arkavo.org/accesscore/internal/config"
	"arkavo.org/accesscore/internal/obs"
)

// kindStatus maps module error kinds to HTTP statuses.
var kindStatus = map[string]int{
	"NotOwner":                    http.StatusForbidden,
	"NotAuthorizedProcessor":      http.StatusForbidden,
	"NotAuthorizedPublisher":      http.StatusForbidden,
	"EntitlementNotFound":         http.StatusNotFound,
	"SessionNotFound":             http.StatusNotFound,
	"PaymentNotFound":             http.StatusNotFound,
	"PolicyNotFound":              http.StatusNotFound,
	"ScopeNotFound":               http.StatusNotFound,
	"RootNotFound":                http.StatusNotFound,
	"ScopeInactive":               http.StatusUnprocessableEntity,
	"InvalidProof":                http.StatusUnprocessableEntity,
	"MissingRequiredAttribute":    http.StatusUnprocessableEntity,
	"InputTooLong":                http.StatusBadRequest,
	"TooManyAttributes":           http.StatusBadRequest,
	"InvalidEntitlementLevel":     http.StatusBadRequest,
	"InvalidDuration":             http.StatusBadRequest,
	"InvalidStatus":               http.StatusConflict,
	"SessionAlreadyExists":        http.StatusConflict,
	"PaymentAlreadyExists":        http.StatusConflict,
	"AlreadyInitialized":          http.StatusConflict,
	"AttributeStoreNotConfigured": http.StatusPreconditionFailed,
	"ContractNotConfigured":       http.StatusPreconditionFailed,
	"NotInitialized":              http.StatusPreconditionFailed,
	"CallDepthExceeded":           http.StatusInternalServerError,
}

// StatusForKind returns the HTTP status for a module error kind.
func StatusForKind(kind string) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func handleChainError(w http.ResponseWriter, r *http.Request, err error) {
	kind := chain.KindOf(err)
	switch {
	case kind != "":
		writeError(w, r, StatusForKind(kind), kind, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusServiceUnavailable, "", "request canceled")
	default:
		obs.Error("request failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err.Error(),
		})
		writeError(w, r, http.StatusInternalServerError, "", "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, http.StatusBadRequest, "", msg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return config.ValidateStruct(dst)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, "", "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, "", "resource not found")
}

func pathAddress(raw string) (chain.Address, error) {
	return chain.ParseAddress(strings.TrimSpace(raw))
}
