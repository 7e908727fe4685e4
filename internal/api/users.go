package api

import (
	"errors"
	"net/http"
	"strings"

	"habitd/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	errs := map[string]string{}
	if strings.TrimSpace(req.Username) == "" {
		errs["username"] = "this field is required"
	}
	if len(req.Password) < 8 {
		errs["password"] = "must be at least 8 characters"
	}
	if len(errs) > 0 {
		writeFieldErrors(w, errs)
		return
	}

	u, err := s.users.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	u, err := s.users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	pair, err := s.tokens.Issue(u.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pair, err := s.tokens.Refresh(req.Refresh)
	if errors.Is(err, auth.ErrInvalidToken) {
		writeDetail(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type linkTelegramRequest struct {
	TelegramChatID int64 `json:"telegram_chat_id"`
}

func (s *Server) handleLinkTelegram(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r.Context())
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var req linkTelegramRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TelegramChatID <= 0 {
		writeFieldErrors(w, map[string]string{"telegram_chat_id": "must be positive"})
		return
	}
	if err := s.users.LinkTelegram(r.Context(), userID, req.TelegramChatID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, linkTelegramRequest{TelegramChatID: req.TelegramChatID})
}
