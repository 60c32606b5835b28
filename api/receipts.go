package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/services"
	"github.com/malwarebo/cashback/utils"
)

type Scanner interface {
	Scan(ctx context.Context, raw, tenantID, customerID string) (*models.ScanResponse, error)
}

type RequestReader interface {
	Get(ctx context.Context, id string) (*models.VerificationRequest, error)
	List(ctx context.Context, filter models.VerificationFilter) ([]*models.VerificationRequest, int64, error)
}

type ReceiptHandler struct {
	scanner  Scanner
	requests RequestReader
}

func CreateReceiptHandler(scanner Scanner, requests RequestReader) *ReceiptHandler {
	return &ReceiptHandler{
		scanner:  scanner,
		requests: requests,
	}
}

// HandleScan queues a scanned receipt. The caller is the authenticated
// customer when a token was presented, otherwise the scan is anonymous.
func (h *ReceiptHandler) HandleScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := utils.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, r, utils.ErrTenantRequired)
		return
	}

	var req models.ScanRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.QR) == "" {
		writeError(w, r, utils.ErrInvalidRequest.WithDetails("qr is required"))
		return
	}

	customerID := ""
	if !utils.IsAdmin(ctx) {
		customerID = utils.GetUserID(ctx)
	}

	resp, err := h.scanner.Scan(ctx, req.QR, tenantID, customerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if resp.RequestID != nil {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// HandleGet reports the status of one request. Customers only see their own.
func (h *ReceiptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.requests.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	if userID := utils.GetUserID(ctx); userID != "" && !utils.IsAdmin(ctx) {
		if req.CustomerID == nil || *req.CustomerID != userID {
			writeError(w, r, services.ErrRequestNotFound)
			return
		}
	}

	writeJSON(w, http.StatusOK, models.BuildVerificationStatusResponse(req))
}
