package common

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("requested resource not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrBadRequest       = errors.New("bad request")
	ErrConflict         = errors.New("resource conflict")
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique violation
			return http.StatusConflict
		case "23503": // foreign key violation
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}

// PublicMessage hides internal error detail for 5xx responses.
func PublicMessage(err error) string {
	if HTTPStatusFromError(err) >= http.StatusInternalServerError {
		if errors.Is(err, ErrStoreUnavailable) {
			return ErrStoreUnavailable.Error()
		}
		return "internal server error"
	}
	return err.Error()
}

// StoreError classifies a persistence error for op: no rows becomes ErrNotFound, a server-side
// Postgres error is kept as is and anything else (dial, timeout, closed pool) is marked
// ErrStoreUnavailable.
func StoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return pkgerrors.Wrap(ErrNotFound, op)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pkgerrors.Wrap(err, op)
	}
	return pkgerrors.Wrap(fmt.Errorf("%w: %w", ErrStoreUnavailable, err), op)
}
