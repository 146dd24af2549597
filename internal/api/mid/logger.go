// Package mid holds the HTTP middleware shared by the relay's listeners.
package mid

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/METASPACE2020/sm-graphql/pkg/common/logger"
)

// Logger writes one line per completed request.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info(r.Context(), "Request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
