package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
)

const maxBodyBytes = 1 << 16

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, domain.ErrTokenRecordNotFound):
		response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "token record not found", nil)
	case errors.Is(err, domain.ErrUnauthorized):
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, domain.ErrStoreFailure):
		slog.ErrorContext(r.Context(), "store failure", "path", r.URL.Path, "error", err.Error())
		response.Error(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "token store unavailable", nil)
	default:
		slog.ErrorContext(r.Context(), "unhandled service error", "path", r.URL.Path, "error", err.Error())
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidArgument)
	}
	return nil
}
