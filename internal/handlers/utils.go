package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/jason-s-yu/scrimlobby/internal/apperr"
	"github.com/jason-s-yu/scrimlobby/internal/auth"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1 << 20

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err with the status of its Kind. Internal causes are
// logged, never sent.
func writeError(logger *logrus.Logger, w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	writeJSON(w, status, errorBody{Error: apperr.KindOf(err), Message: apperr.MessageOf(err)})
}

// decodeJSON reads a JSON body into v. An empty body is a bad request.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.BadRequest("request body is required")
		}
		return apperr.BadRequest("invalid request payload: %v", err)
	}
	return nil
}

// pathID parses the {id} route variable.
func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.BadRequest("invalid id %q", raw)
	}
	return id, nil
}

// requireAuth rejects requests without a valid session and stores the
// player id on the request context.
func requireAuth(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			playerID, err := auth.PlayerIDFromRequest(r)
			if err != nil {
				writeError(logger, w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithPlayerID(r.Context(), playerID)))
		})
	}
}

// callerID returns the player id stored by requireAuth.
func callerID(r *http.Request) int64 {
	id, _ := auth.PlayerIDFrom(r.Context())
	return id
}
