package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	errx "github.com/ragops-session/server/internal/core/error"
)

// DecodeJSON reads the request body into v. An empty body is accepted only
// when optional is set; malformed JSON is a validation error.
func DecodeJSON(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF) && optional:
		return nil
	case errors.Is(err, io.EOF):
		return errx.Validation("request body is required")
	default:
		return errx.Validation("invalid request body: %v", err)
	}
}
