// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/EgorKonstrukt/AutoPlasma/internal/shared"
)

// Problem types returned in the "type" member.
const (
	TypeNotFound          = "not-found"
	TypeDuplicateName     = "duplicate-name"
	TypeInvalidResult     = "invalid-result"
	TypeInsufficientStock = "insufficient-stock"
	TypeValidation        = "validation"
	TypeConflict          = "conflict"
	TypeStorageFailure    = "storage-failure"
	TypeUnauthorized      = "unauthorized"
	TypeInternal          = "internal"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, TypeNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicate):
		Problem(w, http.StatusConflict, TypeDuplicateName, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrInvalidResult):
		Problem(w, http.StatusConflict, TypeInvalidResult, "Invalid Result", err.Error())
	case errors.Is(err, shared.ErrInsufficientStock):
		Problem(w, http.StatusConflict, TypeInsufficientStock, "Insufficient Stock", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, TypeValidation, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, TypeConflict, "Conflict", err.Error())
	case errors.Is(err, shared.ErrStorageFailure):
		Problem(w, http.StatusServiceUnavailable, TypeStorageFailure, "Storage Failure", "")
	default:
		Problem(w, http.StatusInternalServerError, TypeInternal, "Internal Error", "")
	}
}
