package services

import (
	"context"
	"errors"

	"github.com/malwarebo/cashback/fiscal"
	"github.com/malwarebo/cashback/models"
	"github.com/malwarebo/cashback/monitoring"
	"github.com/malwarebo/cashback/utils"
)

const (
	scanAcceptedMessage = "Receipt accepted for verification"
	scanRejectedMessage = "Receipt was already submitted or the submission limit is reached"
)

// Enqueuer admits decoded receipts.
type Enqueuer interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*models.VerificationRequest, error)
}

// ScanService is the entry point for a customer scanning a receipt QR code.
type ScanService struct {
	queue  Enqueuer
	logger *utils.Logger
}

func CreateScanService(queue Enqueuer) *ScanService {
	return &ScanService{
		queue:  queue,
		logger: utils.CreateLogger("scan-service"),
	}
}

// Scan decodes the QR payload and queues the receipt. A duplicate or an
// over-limit submission is a normal rejected response, not an error.
func (s *ScanService) Scan(ctx context.Context, raw, tenantID, customerID string) (*models.ScanResponse, error) {
	payload, err := fiscal.Decode(raw)
	if err != nil {
		monitoring.ReceiptScans.WithLabelValues("malformed").Inc()
		return nil, err
	}

	req, err := s.queue.Enqueue(ctx, EnqueueRequest{
		Payload:    payload,
		TenantID:   tenantID,
		CustomerID: customerID,
	})
	if errors.Is(err, ErrDuplicateOrOverLimit) {
		monitoring.ReceiptScans.WithLabelValues("rejected").Inc()
		s.logger.Info(ctx, "Receipt scan rejected", map[string]interface{}{
			"receipt": payload.Key().String(),
			"reason":  err.Error(),
		})
		return &models.ScanResponse{
			Status:  models.VerificationStatusRejected,
			Message: scanRejectedMessage,
		}, nil
	}
	if err != nil {
		monitoring.ReceiptScans.WithLabelValues("error").Inc()
		return nil, err
	}

	monitoring.ReceiptScans.WithLabelValues("accepted").Inc()
	id := req.ID
	return &models.ScanResponse{
		RequestID: &id,
		Status:    models.VerificationStatusPending,
		Message:   scanAcceptedMessage,
	}, nil
}
