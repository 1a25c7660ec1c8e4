package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	logx "github.com/ragops-session/server/pkg/logger"
)

// AccessLog writes one zerolog line per request once the handler returns.
// Streamed responses are logged when the stream ends.
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logx.Info().
				Str("requestID", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
