package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/safar/stockroom/internal/database"
	"github.com/safar/stockroom/internal/models"
)

// HeaderUserID carries the authenticated caller id set by the upstream
// identity provider.
const HeaderUserID = "X-User-ID"

type ctxKey int

const userKey ctxKey = iota

func callerFrom(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}

// authenticate resolves HeaderUserID to an existing user or answers 401.
func (s *Server) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusUnauthorized, "missing or invalid "+HeaderUserID)
			return
		}

		user, err := s.users.GetUser(r.Context(), id)
		if err != nil {
			if errors.Is(err, database.ErrUserNotFound) {
				respondError(w, http.StatusUnauthorized, "unknown user")
				return
			}
			s.writeError(w, r, err)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// track keeps the request counters. The in-flight gauge is released even if
// the handler panics.
func (s *Server) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := s.counters.Track(r.Context())
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		failed := true
		defer func() { done(failed) }()

		next.ServeHTTP(rec, r)
		failed = rec.status >= http.StatusInternalServerError

		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status))
	})
}
