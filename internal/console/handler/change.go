package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/netchange-gateway/internal/confirm"
	"github.com/xela07ax/netchange-gateway/internal/console/service"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/infra/auth"
)

type ChangeHandler struct {
	service *service.ChangeService
}

func NewChangeHandler(s *service.ChangeService) *ChangeHandler {
	return &ChangeHandler{service: s}
}

// Submit принимает запрос на изменение и возвращает превью с хэшем
// поколения, которое оператор обязан подтвердить
func (h *ChangeHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "changes.submit") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var req service.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	operator := auth.OperatorID(r.Context())
	resp, err := h.service.Submit(r.Context(), operator, req)
	if err != nil {
		if errors.Is(err, domain.ErrPipelineBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(resp)
}

// List — очередь запросов, ожидающих подтверждения
func (h *ChangeHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.PendingQueue())
}

func (h *ChangeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	st, err := h.service.Status(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

type DecideRequest struct {
	Approved    bool   `json:"approved"`
	PreviewHash string `json:"preview_hash"`
	AckImpact   bool   `json:"ack_impact"`
	Comment     string `json:"comment"`
}

// Decide публикует решение оператора (Approve/Reject + Redis Publish)
func (h *ChangeHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "changes.approve") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reviewer := auth.OperatorID(r.Context())
	if reviewer == "" {
		http.Error(w, "reviewer is required", http.StatusBadRequest)
		return
	}

	err := h.service.Decide(r.Context(), confirm.Decision{
		RequestID:   id,
		Reviewer:    reviewer,
		Approved:    req.Approved,
		PreviewHash: req.PreviewHash,
		AckImpact:   req.AckImpact,
		Comment:     req.Comment,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Cancel останавливает активный прогон оператора
func (h *ChangeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	operator := auth.OperatorID(r.Context())
	if !h.service.Cancel(operator) {
		http.Error(w, "no active pipeline", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
