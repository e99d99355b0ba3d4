package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/netchange-gateway/internal/console/service"
	"github.com/xela07ax/netchange-gateway/internal/domain"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(s *service.AuthService) *AuthHandler {
	return &AuthHandler{service: s}
}

// Login выдает RS256 токен оператора по логину и паролю
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	// Тело логина крошечное; обрезаем мусорные мегабайты до декодера
	r.Body = http.MaxBytesReader(w, r.Body, 4096)

	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "username and password are required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		// Не уточняем, что именно неверно (логин или пароль) для защиты от перебора
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
