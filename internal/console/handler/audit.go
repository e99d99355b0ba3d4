package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/netchange-gateway/internal/audit"
	"github.com/xela07ax/netchange-gateway/internal/console/service"
	"github.com/xela07ax/netchange-gateway/internal/domain"
	"github.com/xela07ax/netchange-gateway/internal/infra/auth"
)

type AuditHandler struct {
	service *service.AuditService
	changes *service.ChangeService
}

func NewAuditHandler(s *service.AuditService, changes *service.ChangeService) *AuditHandler {
	return &AuditHandler{service: s, changes: changes}
}

// List — выборка журнала с фильтрами ?operator=&kind=&status=&limit=
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "audit.read") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := h.service.FetchEntries(r.Context(), audit.ListFilter{
		Operator: q.Get("operator"),
		Kind:     domain.ResourceKind(q.Get("kind")),
		Status:   domain.ResultStatus(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (h *AuditHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "audit.read") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "changeID")
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entry)
}

// Rollback запускает откат записи. Откат идет полным конвейером:
// оператору вернется превью восстановления на подтверждение.
func (h *AuditHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "changes.submit") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	id := chi.URLParam(r, "changeID")

	// Пригодность проверяем синхронно, чтобы отдать внятную ошибку
	entry, err := h.service.GetEntry(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if !entry.Rollback.Available || entry.Rollback.Performed {
		http.Error(w, "rollback unavailable for this change", http.StatusConflict)
		return
	}

	operator := auth.OperatorID(r.Context())
	h.changes.SubmitRollback(operator, id)

	w.WriteHeader(http.StatusAccepted)
}
