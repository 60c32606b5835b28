package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/utils"
)

const maxReasonLength = 500

type AwardManager interface {
	GetAward(ctx context.Context, awardID string) (*models.CashbackAward, error)
	Cancel(ctx context.Context, awardID, adminID, reason string) (int64, error)
}

type AdminHandler struct {
	requests RequestReader
	awards   AwardManager
}

func CreateAdminHandler(requests RequestReader, awards AwardManager) *AdminHandler {
	return &AdminHandler{
		requests: requests,
		awards:   awards,
	}
}

func (h *AdminHandler) HandleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	query := r.URL.Query()
	filter := models.VerificationFilter{
		CustomerID: query.Get("customer_id"),
		Status:     models.VerificationStatus(query.Get("status")),
		Limit:      limit,
		Offset:     offset,
	}

	var errs utils.ValidationErrors
	errs.Add(utils.ValidateUUID(filter.CustomerID, "customer_id", false))
	errs.Add(utils.ValidateOneOf(string(filter.Status), "status",
		string(models.VerificationStatusPending),
		string(models.VerificationStatusProcessing),
		string(models.VerificationStatusSuccess),
		string(models.VerificationStatusRejected),
		string(models.VerificationStatusFailed),
	))
	if err := errs.Err(); err != nil {
		writeError(w, r, err)
		return
	}

	requests, total, err := h.requests.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

func (h *AdminHandler) HandleGetAward(w http.ResponseWriter, r *http.Request) {
	award, err := h.awards.GetAward(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, award)
}

func (h *AdminHandler) HandleCancelAward(w http.ResponseWriter, r *http.Request) {
	var req models.CancelAwardRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := utils.ValidateString(req.Reason, "reason", 3, maxReasonLength, true); err != nil {
		writeError(w, r, utils.ValidationErrors{*err})
		return
	}

	awardID := mux.Vars(r)["id"]
	refunded, err := h.awards.Cancel(r.Context(), awardID, utils.GetUserID(r.Context()), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, models.CancelAwardResponse{
		AwardID:        awardID,
		RefundedAmount: refunded,
	})
}
