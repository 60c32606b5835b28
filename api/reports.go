package api

import (
	"context"
	"net/http"

	"github.com/malwarebo/cashback/analytics"
)

type ReportReader interface {
	GetCashbackReport(ctx context.Context, period string) (*analytics.CashbackReport, error)
}

type ReportHandler struct {
	reports ReportReader
}

func CreateReportHandler(reports ReportReader) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) HandleCashbackReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.GetCashbackReport(r.Context(), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
