package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"habitd/internal/habit"
	"habitd/internal/user"
	"habitd/pkg/logx"
)

// nonFieldKey is where rule violations that span multiple fields land
// in the error payload.
const nonFieldKey = "non_field_errors"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeFieldErrors(w http.ResponseWriter, errs map[string]string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"errors": errs})
}

// writeServiceError maps service failures to API responses. Unknown
// errors become an opaque 500; everything else keeps its structure.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *habit.ValidationError
	switch {
	case errors.As(err, &verr):
		field := verr.Field
		if field == "" {
			field = nonFieldKey
		}
		writeFieldErrors(w, map[string]string{field: verr.Message})
	case errors.Is(err, habit.ErrNotFound), errors.Is(err, user.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "not found")
	case errors.Is(err, user.ErrInvalidCredentials):
		writeDetail(w, http.StatusUnauthorized, "invalid username or password")
	case errors.Is(err, user.ErrUsernameTaken):
		writeFieldErrors(w, map[string]string{"username": "already taken"})
	case errors.Is(err, user.ErrChatIDTaken):
		writeFieldErrors(w, map[string]string{"telegram_chat_id": "already linked to another user"})
	default:
		s.log.Error("request failed", logx.Err(err))
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
