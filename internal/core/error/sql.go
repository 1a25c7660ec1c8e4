package errx

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
)

// WrapSQL maps database/sql errors onto the unified error type. Missing rows
// become NotFound; cancellations keep their context error so callers can tell
// a disconnect from a storage fault.
func WrapSQL(err error) *AppError {
	if err == nil {
		return nil
	}

	var app *AppError
	if errors.As(err, &app) {
		return app
	}

	if errors.Is(err, sql.ErrNoRows) {
		return &AppError{Err: ErrNotFound, Status: http.StatusNotFound, Code: CodeNotFound, Message: "record not found"}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AppError{Err: err, Status: http.StatusServiceUnavailable, Code: CodeSystemError, Message: StorageErrorMessage}
	}

	return &AppError{Err: err, Status: http.StatusInternalServerError, Code: CodeSystemError, Message: StorageErrorMessage}
}
