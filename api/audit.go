package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

type AuditReader interface {
	GetAuditLogs(ctx context.Context, filter models.AuditLogFilter) ([]*models.AuditLog, int64, error)
	GetAwardHistory(ctx context.Context, awardID string, limit int) ([]*models.AuditLog, error)
}

type AuditHandler struct {
	audit AuditReader
}

func CreateAuditHandler(audit AuditReader) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	query := r.URL.Query()
	filter := models.AuditLogFilter{
		ActorID:      query.Get("actor_id"),
		Action:       query.Get("action"),
		ResourceType: query.Get("resource_type"),
		ResourceID:   query.Get("resource_id"),
		Limit:        limit,
		Offset:       offset,
	}

	var errs utils.ValidationErrors
	var verr *utils.ValidationError
	filter.StartDate, verr = utils.ParseTime(query.Get("start_date"), "start_date")
	errs.Add(verr)
	filter.EndDate, verr = utils.ParseTime(query.Get("end_date"), "end_date")
	errs.Add(verr)
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	logs, total, err := h.audit.GetAuditLogs(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audit_logs": logs,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

func (h *AuditHandler) HandleAwardHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := pagination(r)
	awardID := mux.Vars(r)["id"]

	logs, err := h.audit.GetAwardHistory(r.Context(), awardID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"audit_logs": logs,
		"award_id":   awardID,
	})
}
